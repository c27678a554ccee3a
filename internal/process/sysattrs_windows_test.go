//go:build windows

package process

import (
	"os/exec"
	"testing"
)

func checkSysProcAttrs(t *testing.T, cmd *exec.Cmd) {
	t.Helper()
	if cmd.SysProcAttr == nil || cmd.SysProcAttr.CreationFlags == 0 {
		t.Fatalf("SysProcAttr CreationFlags not set")
	}
}
