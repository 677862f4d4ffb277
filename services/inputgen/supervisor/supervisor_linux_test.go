// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const launcherPidFileEnv = "INPUTGEN_LAUNCHER_PID_FILE"

// TestLauncherProcess is the body of the child started by
// TestLaunch_ChildDiesWithLauncher.
func TestLauncherProcess(t *testing.T) {
	pidFile := os.Getenv(launcherPidFileEnv)
	if pidFile == "" {
		t.Skip("only runs as a child process")
	}
	s := newTestSupervisor(time.Second)
	_, _ = s.Launch(context.Background(), sh("echo $$ > "+pidFile+"; exec sleep 4242"))
	os.Exit(0)
}

func TestLaunch_ChildDiesWithLauncher(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "tool.pid")
	launcher := exec.Command(os.Args[0], "-test.run=^TestLauncherProcess$")
	launcher.Env = append(os.Environ(), launcherPidFileEnv+"="+pidFile)
	require.NoError(t, launcher.Start())

	pid := waitForPid(t, pidFile)
	require.True(t, alive(pid))

	require.NoError(t, launcher.Process.Kill())
	_ = launcher.Wait()

	assert.Eventually(t, func() bool {
		return !alive(pid)
	}, 3*time.Second, 20*time.Millisecond, "tool outlived its killed launcher")
}

func waitForPid(t *testing.T, path string) int {
	t.Helper()
	var pid int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil
	}, 10*time.Second, 20*time.Millisecond)
	return pid
}
