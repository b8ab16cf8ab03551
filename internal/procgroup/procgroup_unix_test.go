// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func startGroup(t *testing.T, script string) (*exec.Cmd, <-chan error) {
	t.Helper()
	cmd := exec.Command("sh", "-c", script)
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	return cmd, waitCh
}

func TestKillSignalsWholeGroup(t *testing.T) {
	cmd, waitCh := startGroup(t, "sleep 10 & sleep 10")
	pid := cmd.Process.Pid

	pgid, err := unix.Getpgid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid, "process should be group leader")

	require.NoError(t, Kill(cmd, syscall.SIGKILL))

	err = <-waitCh
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.True(t, status.Signaled())

	require.Eventually(t, func() bool {
		return errors.Is(unix.Kill(-pgid, 0), unix.ESRCH)
	}, 2*time.Second, 20*time.Millisecond, "process group should be gone")
}

func TestKillNilCommand(t *testing.T) {
	assert.NoError(t, Kill(nil, syscall.SIGTERM))
	assert.NoError(t, Kill(&exec.Cmd{}, syscall.SIGTERM))
}

func TestTerminateGracefulExit(t *testing.T) {
	cmd, waitCh := startGroup(t, "sleep 10")

	start := time.Now()
	err := Terminate(cmd, waitCh, 5*time.Second)
	require.Error(t, err, "sleep killed by SIGTERM exits non-zero")
	assert.Less(t, time.Since(start), 2*time.Second, "SIGTERM should stop sleep without escalation")
}

func TestTerminateEscalatesToSIGKILL(t *testing.T) {
	cmd, waitCh := startGroup(t, "trap '' TERM; while :; do sleep 0.05; done")
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	err := Terminate(cmd, waitCh, 200*time.Millisecond)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.Equal(t, syscall.SIGKILL, status.Signal())
}

func TestTerminateAlreadyExited(t *testing.T) {
	cmd, waitCh := startGroup(t, "exit 0")
	time.Sleep(100 * time.Millisecond)
	assert.NoError(t, Terminate(cmd, waitCh, time.Second))
}
