package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/oshokin/mblock-stager/internal/logger"
)

const (
	// toolMode is restored on a bundled 7-zip binary before it runs.
	toolMode os.FileMode = 0o755
	// outputTail is how much of the tool output ends up in errors.
	outputTail = 512
)

// ErrExtractFailed wraps every failure reported by the 7-zip tool.
var ErrExtractFailed = errors.New("7-zip extraction failed")

// SevenZip extracts any archive 7-zip understands, including self-extracting installers.
type SevenZip struct {
	binary string
}

// NewSevenZip returns an extractor running binary.
// A binary containing a path separator is used as is; otherwise it is looked up in PATH.
func NewSevenZip(binary string) *SevenZip {
	return &SevenZip{binary: binary}
}

// Extract unpacks archivePath into destDir with full paths.
func (s *SevenZip) Extract(ctx context.Context, archivePath, destDir string) error {
	binary, err := s.resolve()
	if err != nil {
		return err
	}

	if _, err = os.Stat(archivePath); err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}

	if err = os.MkdirAll(destDir, defaultDirMode); err != nil {
		return fmt.Errorf("create %s: %w", destDir, err)
	}

	cmd := exec.CommandContext(ctx, binary, "x", archivePath, "-o"+destDir, "-y")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %w: %s", ErrExtractFailed, archivePath, err, tail(output))
	}

	logger.DebugKV(ctx, "7-zip finished", "binary", binary, "archive", archivePath, "destination", destDir)

	return nil
}

// resolve restores the mode of a bundled binary or finds a system one.
func (s *SevenZip) resolve() (string, error) {
	if strings.ContainsRune(s.binary, os.PathSeparator) || strings.Contains(s.binary, "/") {
		if err := os.Chmod(s.binary, toolMode); err != nil {
			return "", fmt.Errorf("restore 7-zip permissions: %w", err)
		}

		return s.binary, nil
	}

	path, err := exec.LookPath(s.binary)
	if err != nil {
		return "", fmt.Errorf("locate 7-zip: %w", err)
	}

	return path, nil
}

func tail(output []byte) string {
	text := strings.TrimSpace(string(output))
	if len(text) > outputTail {
		start := len(text) - outputTail
		for start < len(text) && !utf8.RuneStart(text[start]) {
			start++
		}

		text = "..." + text[start:]
	}

	return text
}
