package marker

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	pid  int
	name string
}

func (p fakeProcess) Pid() int           { return p.pid }
func (p fakeProcess) PPid() int          { return 1 }
func (p fakeProcess) Executable() string { return p.name }

func listing(processes ...ps.Process) ProcessLister {
	return func() ([]ps.Process, error) {
		return processes, nil
	}
}

func age(t *testing.T, m *FileMarker, d time.Duration) {
	t.Helper()

	old := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(m.Path(), old, old))
}

// TestAcquireRelease creates the marker, refuses a second holder and frees it again.
func TestAcquireRelease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := New(t.TempDir(), "mblock-stager").WithProcessLister(listing())

	require.NoError(t, m.Acquire(ctx))
	require.ErrorIs(t, m.Acquire(ctx), ErrAlreadyRunning)

	m.Release(ctx)

	_, err := os.Stat(m.Path())
	require.ErrorIs(t, err, os.ErrNotExist)
	require.NoError(t, m.Acquire(ctx))

	// Releasing twice is harmless.
	m.Release(ctx)
	m.Release(ctx)
}

// TestAcquireStaleMarker clears an old marker whose owner is gone.
func TestAcquireStaleMarker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := New(t.TempDir(), "mblock-stager").WithProcessLister(listing(fakeProcess{pid: 42, name: "bash"}))

	require.NoError(t, m.Acquire(ctx))
	age(t, m, time.Minute)

	require.NoError(t, m.Acquire(ctx))
}

func writeMarker(t *testing.T, m *FileMarker, contents string) {
	t.Helper()

	require.NoError(t, os.WriteFile(m.Path(), []byte(contents), 0o600))
	age(t, m, time.Minute)
}

// TestAcquireStaleMarkerOwnerAlive keeps an old marker while its owner PID runs,
// whatever the owner's executable is called.
func TestAcquireStaleMarkerOwnerAlive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := New(t.TempDir(), "mblock-stager").
		WithProcessLister(listing(fakeProcess{pid: os.Getpid() + 1, name: "go-build3920"}))

	writeMarker(t, m, strconv.Itoa(os.Getpid()+1)+"\n")

	require.ErrorIs(t, m.Acquire(ctx), ErrAlreadyRunning)
}

// TestAcquireStaleMarkerOwnerGone ignores other stager processes once the owner PID is gone.
func TestAcquireStaleMarkerOwnerGone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := New(t.TempDir(), "mblock-stager").
		WithProcessLister(listing(fakeProcess{pid: os.Getpid() + 2, name: "mblock-stager"}))

	writeMarker(t, m, strconv.Itoa(os.Getpid()+1)+"\n")

	require.NoError(t, m.Acquire(ctx))
}

// TestAcquireStaleMarkerWithoutPID falls back to the executable name.
func TestAcquireStaleMarkerWithoutPID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := New(t.TempDir(), "mblock-stager").
		WithProcessLister(listing(fakeProcess{pid: os.Getpid() + 2, name: "mblock-stager"}))

	writeMarker(t, m, "")

	require.ErrorIs(t, m.Acquire(ctx), ErrAlreadyRunning)

	m.WithProcessLister(listing(fakeProcess{pid: os.Getpid() + 2, name: "bash"}))
	require.NoError(t, m.Acquire(ctx))
}

// TestAcquireProcessListFailure surfaces process table errors.
func TestAcquireProcessListFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := New(t.TempDir(), "mblock-stager").WithProcessLister(func() ([]ps.Process, error) {
		return nil, errors.New("no /proc")
	})

	require.NoError(t, m.Acquire(ctx))
	age(t, m, time.Minute)

	err := m.Acquire(ctx)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAlreadyRunning)
}

// TestDefaultProcessLister runs against the real process table.
func TestDefaultProcessLister(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := New(t.TempDir(), "no-such-mblock-stager-process")

	require.NoError(t, m.Acquire(ctx))
	age(t, m, time.Minute)
	require.NoError(t, m.Acquire(ctx))
}
