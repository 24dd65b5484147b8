package fileguard

import (
	"path"
	"strings"
)

var (
	secretPrefixes = []string{".env", "id_rsa", "id_ed25519", "id_ecdsa"}
	secretSuffixes = []string{".pem", ".key", ".p12", ".pfx", ".keystore"}
	secretNames    = map[string]struct{}{
		".npmrc": {}, ".pypirc": {}, ".netrc": {}, ".git-credentials": {},
	}
	secretPaths = []string{".aws/credentials", ".docker/config.json", ".ssh/", ".kube/config"}
)

// isSecret reports whether a workspace-relative, slash-separated path names
// a credential file that no tool may touch, even inside the workspace.
func isSecret(rel string) bool {
	lower := strings.ToLower(rel)
	base := path.Base(lower)
	if _, ok := secretNames[base]; ok {
		return true
	}
	for _, prefix := range secretPrefixes {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	for _, p := range secretPaths {
		if lower == strings.TrimSuffix(p, "/") || strings.HasPrefix(lower, p) || strings.Contains(lower, "/"+p) {
			return true
		}
	}
	return false
}
