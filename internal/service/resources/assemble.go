package resources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/otiai10/copy"

	"github.com/oshokin/mblock-stager/internal/domain/toolchain"
	"github.com/oshokin/mblock-stager/internal/logger"
)

// ErrTemplateMissing is returned when the template tree does not exist.
var ErrTemplateMissing = errors.New("resources template is missing")

var errUnsafeReplacement = errors.New("replacement directory escapes the output tree")

// Layout names every directory taking part in the assembly.
type Layout struct {
	// TemplateDir is copied as the base of the tree.
	TemplateDir string
	// OutputDir is removed and rebuilt.
	OutputDir string
	// ReplacementSource replaces ReplacementDir inside OutputDir.
	ReplacementSource string
	// ReplacementDir is relative to OutputDir.
	ReplacementDir string
	// Repairs are applied relative to the replaced directory.
	Repairs []toolchain.Repair
}

// copyOptions keep symbolic links as links.
func copyOptions() copy.Options {
	return copy.Options{
		OnSymlink: func(string) copy.SymlinkAction {
			return copy.Shallow
		},
	}
}

// Assemble rebuilds OutputDir from the template and the replacement subtree.
func Assemble(ctx context.Context, layout Layout) error {
	if !filepath.IsLocal(layout.ReplacementDir) {
		return fmt.Errorf("%q: %w", layout.ReplacementDir, errUnsafeReplacement)
	}

	info, err := os.Stat(layout.TemplateDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", layout.TemplateDir, ErrTemplateMissing)
		}

		return fmt.Errorf("stat template: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", layout.TemplateDir, ErrTemplateMissing)
	}

	if _, err = os.Stat(layout.ReplacementSource); err != nil {
		return fmt.Errorf("stat replacement: %w", err)
	}

	logger.InfoKV(ctx, "Assembling resources", "template", layout.TemplateDir, "output", layout.OutputDir)

	if err = os.RemoveAll(layout.OutputDir); err != nil {
		return fmt.Errorf("remove output tree: %w", err)
	}

	if err = copy.Copy(layout.TemplateDir, layout.OutputDir, copyOptions()); err != nil {
		return fmt.Errorf("copy template: %w", err)
	}

	replaced := filepath.Join(layout.OutputDir, layout.ReplacementDir)

	if err = os.RemoveAll(replaced); err != nil {
		return fmt.Errorf("remove bundled toolchain: %w", err)
	}

	logger.InfoKV(ctx, "Replacing toolchain", "source", layout.ReplacementSource, "destination", replaced)

	if err = copy.Copy(layout.ReplacementSource, replaced, copyOptions()); err != nil {
		return fmt.Errorf("copy toolchain: %w", err)
	}

	if err = RepairTree(ctx, replaced, layout.Repairs); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Resources assembled", "path", layout.OutputDir)

	return nil
}
