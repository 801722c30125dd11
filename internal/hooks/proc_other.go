//go:build !unix

package hooks

import "os/exec"

// killProcessGroup is a no-op where process groups are unavailable; the
// default cancellation kills the script process only.
func killProcessGroup(cmd *exec.Cmd) {}
