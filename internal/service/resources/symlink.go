package resources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/mblock-stager/internal/domain/toolchain"
	"github.com/oshokin/mblock-stager/internal/logger"
)

// RepairTree applies every repair relative to root, in order.
func RepairTree(ctx context.Context, root string, repairs []toolchain.Repair) error {
	for _, repair := range repairs {
		if err := repair.Validate(); err != nil {
			return err
		}

		dir := filepath.Join(root, repair.Dir)

		logger.DebugKV(ctx, "Repairing symlinks", "dir", dir)

		if err := RepairSymlinks(dir, repair); err != nil {
			return fmt.Errorf("repair %s: %w", repair.Dir, err)
		}
	}

	return nil
}

// RepairSymlinks rewrites the links of a single directory.
// The prefix rule runs first, then the aliases.
func RepairSymlinks(dir string, repair toolchain.Repair) error {
	if repair.Prefix != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("read dir: %w", err)
		}

		for _, entry := range entries {
			target := filepath.Join(repair.TargetDir, repair.Prefix+entry.Name())

			if err = relink(filepath.Join(dir, entry.Name()), target); err != nil {
				return err
			}
		}
	}

	for _, alias := range repair.Aliases {
		if err := relink(filepath.Join(dir, alias.Link), alias.Target); err != nil {
			return err
		}
	}

	return nil
}

// relink replaces whatever is at link with a symbolic link to target.
func relink(link, target string) error {
	if err := os.RemoveAll(link); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", link, err)
	}

	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("link %s: %w", link, err)
	}

	return nil
}
