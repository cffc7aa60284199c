package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/mblock-stager/internal/config"
	"github.com/oshokin/mblock-stager/internal/domain/artifact"
)

// DefaultFilename is the report name inside the build root.
const DefaultFilename = "mblock-stage.yaml"

// Repository defines persistence operations for the stage report.
type Repository interface {
	Load(ctx context.Context) (*artifact.Report, error)
	Save(ctx context.Context, report *artifact.Report) error
}

// FileRepository persists the stage report to a YAML file on disk.
type FileRepository struct {
	// path is the filesystem location of the report.
	path string
	// mu protects concurrent access to the report file.
	mu sync.Mutex
}

// ErrNotFound is returned when no report has been written yet.
var ErrNotFound = errors.New("report not found")

// NewFileRepository creates a repository that reads/writes YAML at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the report location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the report from disk.
func (r *FileRepository) Load(_ context.Context) (*artifact.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read report file: %w", err)
	}

	var result artifact.Report
	if err = yaml.Unmarshal(contents, &result); err != nil {
		return nil, fmt.Errorf("decode report file: %w", err)
	}

	return &result, nil
}

// Save writes the report to disk, replacing any previous one.
func (r *FileRepository) Save(_ context.Context, report *artifact.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}

	return nil
}
