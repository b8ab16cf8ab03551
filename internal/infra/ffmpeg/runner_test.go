//go:build unix

package ffmpeg

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg writes a shell script standing in for ffmpeg and returns its path.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestConcatArgs(t *testing.T) {
	assert.Equal(t, []string{
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0",
		"-i", "/w/list.txt",
		"-c", "copy",
		"/w/out.mp4",
	}, ConcatArgs("/w/list.txt", "/w/out.mp4"))
}

func TestRunner_ConcatSuccess(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	// The last argument is the output path.
	bin := fakeFFmpeg(t, `echo "$@" > "`+argsFile+`"; for last; do :; done; printf merged > "$last"`)

	out := filepath.Join(dir, "out.mp4")
	r := NewRunner(bin, time.Second)
	require.NoError(t, r.Concat(context.Background(), filepath.Join(dir, "list.txt"), out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "merged", string(data))

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "-f concat -safe 0")
}

func TestRunner_NonZeroExitIncludesStderrTail(t *testing.T) {
	bin := fakeFFmpeg(t, `echo "list.txt: Invalid data found when processing input" >&2; exit 1`)

	err := NewRunner(bin, time.Second).Concat(context.Background(), "list.txt", "out.mp4")
	require.ErrorIs(t, err, ErrExit)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestRunner_MissingBinary(t *testing.T) {
	err := NewRunner(filepath.Join(t.TempDir(), "nope"), time.Second).Concat(context.Background(), "a", "b")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExit)
}

func TestRunner_CancelStopsProcess(t *testing.T) {
	bin := fakeFFmpeg(t, `sleep 30`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewRunner(bin, 500*time.Millisecond).Concat(ctx, "a", "b")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunner_UsesCommandFn(t *testing.T) {
	var gotName string
	var gotArgs []string
	orig := commandFn
	commandFn = func(name string, args ...string) *exec.Cmd {
		gotName, gotArgs = name, args
		return exec.Command("true")
	}
	t.Cleanup(func() { commandFn = orig })

	require.NoError(t, NewRunner("", 0).Concat(context.Background(), "l", "o"))
	assert.Equal(t, "ffmpeg", gotName)
	assert.Equal(t, ConcatArgs("l", "o"), gotArgs)
}
