// Package marker keeps two stager runs from working on the same build tree.
//
// The marker is a file created exclusively inside the build root and holding
// the owner's PID. A marker younger than Lifetime always wins; an older one is
// honored only while its owner is still alive. Markers without a readable PID
// fall back to a lookup by the stager's executable name.
package marker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/mblock-stager/internal/logger"
)

const (
	// DefaultFilename is the marker name inside the build root.
	DefaultFilename = ".mblock-stager.marker"
	// Lifetime is the age after which a marker is checked against running processes.
	Lifetime = 30 * time.Second
)

// ErrAlreadyRunning is returned when another run holds the marker.
var ErrAlreadyRunning = errors.New("another stager run is in progress")

// ProcessLister returns the running processes. ps.Processes by default.
type ProcessLister func() ([]ps.Process, error)

// FileMarker guards a build root.
type FileMarker struct {
	path        string
	processName string
	processes   ProcessLister
	now         func() time.Time
}

// New returns a marker at dir/DefaultFilename owned by processName.
func New(dir, processName string) *FileMarker {
	return &FileMarker{
		path:        filepath.Join(dir, DefaultFilename),
		processName: processName,
		processes:   ps.Processes,
		now:         time.Now,
	}
}

// WithProcessLister replaces the process table source.
func (m *FileMarker) WithProcessLister(lister ProcessLister) *FileMarker {
	m.processes = lister
	return m
}

// Path returns the marker location.
func (m *FileMarker) Path() string {
	return m.path
}

// Acquire creates the marker, clearing a stale one first.
func (m *FileMarker) Acquire(ctx context.Context) error {
	logger.Debug(ctx, "Checking for the presence of a run marker")

	info, err := os.Stat(m.path)

	switch {
	case err == nil:
		if err = m.clearStale(ctx, info); err != nil {
			return err
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("stat marker: %w", err)
	}

	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, os.ErrExist) {
		return ErrAlreadyRunning
	}

	if err != nil {
		return fmt.Errorf("create marker: %w", err)
	}

	if _, err = fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		_ = f.Close()
		return fmt.Errorf("write marker: %w", err)
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("close marker: %w", err)
	}

	return nil
}

// Release removes the marker. A missing marker is not an error.
func (m *FileMarker) Release(ctx context.Context) {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to remove run marker", "path", m.path, "error", err)
	}
}

func (m *FileMarker) clearStale(ctx context.Context, info os.FileInfo) error {
	if m.now().Sub(info.ModTime()) <= Lifetime {
		return ErrAlreadyRunning
	}

	running, err := m.ownerRunning()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	if running {
		return ErrAlreadyRunning
	}

	logger.InfoKV(ctx, "The run marker is too old, removing it", "path", m.path)

	if err = os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale marker: %w", err)
	}

	return nil
}

// ownerRunning reports whether the process that wrote the marker still exists.
func (m *FileMarker) ownerRunning() (bool, error) {
	owner, known := m.ownerPID()

	processList, err := m.processes()
	if err != nil {
		return false, err
	}

	self := os.Getpid()

	for _, process := range processList {
		if process.Pid() == self {
			continue
		}

		if known && process.Pid() == owner {
			return true, nil
		}

		if !known && process.Executable() == m.processName {
			return true, nil
		}
	}

	return false, nil
}

// ownerPID reads the PID written by Acquire.
func (m *FileMarker) ownerPID() (int, bool) {
	contents, err := os.ReadFile(m.path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	return pid, true
}
