package rootshell

import (
	"context"
	"strings"
	"time"
)

// SELinux modes reported by SELinuxStatus.
const (
	SELinuxEnforcing  = "enforcing"
	SELinuxPermissive = "permissive"
	SELinuxDisabled   = "disabled"
	SELinuxUnknown    = "unknown"
)

// RunCommand escapes every element of argv and runs the joined command line
// through r.
func RunCommand(ctx context.Context, r Runner, timeout time.Duration, argv ...string) Result {
	if len(argv) == 0 {
		return failure("empty command")
	}
	return r.RunScript(ctx, JoinArgs(argv), timeout)
}

// IsRootAvailable reports whether r executes as uid 0. Any executor failure,
// nonzero exit or unexpected output means no.
func IsRootAvailable(ctx context.Context, r Runner, timeout time.Duration) bool {
	res := r.RunScript(ctx, "id -u", timeout)
	return res.OK() && res.FirstLine() == "0"
}

// FileExists reports whether path exists as seen by r.
func FileExists(ctx context.Context, r Runner, path string, timeout time.Duration) bool {
	res := r.RunScript(ctx, "[ -e "+EscapeForShell(path)+" ] && echo 1 || echo 0", timeout)
	return res.OK() && res.FirstLine() == "1"
}

// SELinuxStatus returns the current SELinux mode in lower case, or
// SELinuxUnknown when getenforce could not be run.
func SELinuxStatus(ctx context.Context, r Runner, timeout time.Duration) string {
	res := r.RunScript(ctx, "getenforce", timeout)
	if !res.OK() {
		return SELinuxUnknown
	}

	switch mode := strings.ToLower(res.FirstLine()); mode {
	case SELinuxEnforcing, SELinuxPermissive, SELinuxDisabled:
		return mode
	default:
		return SELinuxUnknown
	}
}
