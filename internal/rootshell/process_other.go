//go:build !unix

package rootshell

import "os/exec"

// setProcessGroup relies on the default CommandContext kill on platforms
// without process groups.
func setProcessGroup(cmd *exec.Cmd) {}
