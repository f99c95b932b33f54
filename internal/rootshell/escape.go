package rootshell

import "strings"

// EscapeForShell quotes s so that a POSIX shell reads it back as exactly one
// argument. Strings made only of letters, digits and @%_+=:,./- are returned
// unchanged.
func EscapeForShell(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	return Quote(s)
}

// Quote always wraps s in single quotes. An embedded quote closes the
// quoted string, emits an escaped quote and reopens it.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// JoinArgs escapes each argument and joins them with spaces.
func JoinArgs(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = EscapeForShell(arg)
	}
	return strings.Join(quoted, " ")
}

func isShellSafe(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("@%_+=:,./-", c) >= 0:
		default:
			return false
		}
	}
	return true
}
