package shell

import "sort"

// operandKind says how a command's non-flag arguments are checked.
type operandKind int

const (
	operandsNone operandKind = iota
	// operandsPaths are file operands; each one must resolve inside the workspace.
	operandsPaths
	// operandsText are free text; path-like tokens are still confined.
	operandsText
	// operandsDateFormat accepts only "+FORMAT" strings.
	operandsDateFormat
)

// AllowlistEntry is one permitted command. Flags maps each allowed flag to
// whether it consumes a value (the next token, or the rest of a short flag).
type AllowlistEntry struct {
	Command  string
	Flags    map[string]bool
	Operands operandKind
	// NumericValues restricts flag values to signed integers.
	NumericValues bool
}

// allowlist is compiled in and never changes at runtime. Every entry is a
// read-only command with no way to spawn processes or run script bodies;
// find, grep, sed, awk, xargs and shells are deliberately absent.
var allowlist = map[string]AllowlistEntry{
	"ls": {
		Command:  "ls",
		Flags:    flags("-l", "-a", "-A", "-h", "-1", "-R", "-t", "-S", "-r", "-d", "-F", "-p"),
		Operands: operandsPaths,
	},
	"pwd": {
		Command: "pwd",
		Flags:   flags(),
	},
	"date": {
		Command:  "date",
		Flags:    flags("-u", "-R", "--utc"),
		Operands: operandsDateFormat,
	},
	"cat": {
		Command:  "cat",
		Flags:    flags("-n", "-b", "-s", "-A", "-E", "-T", "-v"),
		Operands: operandsPaths,
	},
	"wc": {
		Command:  "wc",
		Flags:    flags("-l", "-w", "-c", "-m", "-L"),
		Operands: operandsPaths,
	},
	"head": {
		Command:       "head",
		Flags:         withValues(flags("-q", "-v"), "-n", "-c"),
		Operands:      operandsPaths,
		NumericValues: true,
	},
	"tail": {
		Command:       "tail",
		Flags:         withValues(flags("-q", "-v"), "-n", "-c"),
		Operands:      operandsPaths,
		NumericValues: true,
	},
	"echo": {
		Command:  "echo",
		Flags:    flags("-n", "-e", "-E"),
		Operands: operandsText,
	},
	"stat": {
		Command:  "stat",
		Flags:    withValues(flags("-L", "-t"), "-c", "--format"),
		Operands: operandsPaths,
	},
}

// binDirs is where allowlisted binaries are looked up. PATH is not consulted.
var binDirs = []string{"/usr/bin", "/bin"}

// blockedPrefixes are refused even when a path would otherwise be
// contained, so a misconfigured workspace cannot expose host secrets.
var blockedPrefixes = []string{"/etc/", "/root/", "/proc/", "/sys/", "/dev/", "/boot/"}

func flags(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = false
	}
	return m
}

func withValues(m map[string]bool, names ...string) map[string]bool {
	for _, n := range names {
		m[n] = true
	}
	return m
}

// Commands returns the allowlisted command names, sorted.
func Commands() []string {
	names := make([]string, 0, len(allowlist))
	for name := range allowlist {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
