package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oshokin/mblock-stager/internal/logger"
)

const (
	defaultDirMode os.FileMode = 0o755
	minDirMode     os.FileMode = 0o700
)

// ErrUnsafePath is returned for entries that would land outside the destination.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Unpack writes the tar stream r into destDir as entries arrive.
// Every write goes through an os.Root, so nothing lands outside destDir even
// when an earlier entry planted a symlink.
func Unpack(ctx context.Context, r io.Reader, destDir string) error {
	if err := os.MkdirAll(destDir, defaultDirMode); err != nil {
		return fmt.Errorf("create %s: %w", destDir, err)
	}

	root, err := os.OpenRoot(destDir)
	if err != nil {
		return fmt.Errorf("open %s: %w", destDir, err)
	}

	defer func() {
		_ = root.Close()
	}()

	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%q: %w", hdr.Name, ErrUnsafePath)
		}

		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		name := filepath.Clean(filepath.FromSlash(hdr.Name))
		if !filepath.IsLocal(name) {
			return fmt.Errorf("%q: %w", hdr.Name, ErrUnsafePath)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			err = mkdirAll(root, name, hdr.FileInfo().Mode().Perm()|minDirMode)
		case tar.TypeReg:
			err = writeFile(root, tr, name, hdr)
		case tar.TypeSymlink:
			err = writeSymlink(root, hdr.Linkname, name)
		case tar.TypeLink:
			err = writeHardLink(root, hdr.Linkname, name)
		default:
			logger.DebugKV(ctx, "Skipping tar entry", "name", hdr.Name, "type", string(hdr.Typeflag))
		}

		if err != nil {
			return fmt.Errorf("unpack %s: %w", hdr.Name, err)
		}
	}
}

// UnpackStage unpacks its input into destDir. It produces no output.
func UnpackStage(destDir string) Stage {
	return func(ctx context.Context, in io.Reader, _ io.Writer) error {
		return Unpack(ctx, in, destDir)
	}
}

// TarUnpacker unpacks compressed tarballs from disk.
type TarUnpacker struct{}

// NewTarUnpacker returns a TarUnpacker.
func NewTarUnpacker() *TarUnpacker {
	return &TarUnpacker{}
}

// UnpackFile streams archivePath through read, decode and unpack stages into destDir.
func (*TarUnpacker) UnpackFile(ctx context.Context, archivePath, destDir string) error {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return err
	}

	f, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	logger.DebugKV(ctx, "Unpacking archive", "archive", archivePath, "format", format, "destination", destDir)

	return Run(ctx, f, ReadStage, DecodeStage(format), UnpackStage(destDir))
}

func writeFile(root *os.Root, r io.Reader, name string, hdr *tar.Header) error {
	if err := mkdirAll(root, filepath.Dir(name), defaultDirMode); err != nil {
		return err
	}

	if err := removeNonDir(root, name); err != nil {
		return err
	}

	mode := hdr.FileInfo().Mode().Perm()

	f, err := root.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}

	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}

	if err = f.Close(); err != nil {
		return err
	}

	// OpenFile is subject to umask.
	if err = root.Chmod(name, mode); err != nil {
		return err
	}

	return root.Chtimes(name, hdr.ModTime, hdr.ModTime)
}

// writeSymlink accepts only links resolving inside the tree.
func writeSymlink(root *os.Root, linkname, name string) error {
	target := filepath.FromSlash(linkname)
	if filepath.IsAbs(target) || !filepath.IsLocal(filepath.Join(filepath.Dir(name), target)) {
		return fmt.Errorf("link to %q: %w", linkname, ErrUnsafePath)
	}

	if err := mkdirAll(root, filepath.Dir(name), defaultDirMode); err != nil {
		return err
	}

	if err := removeNonDir(root, name); err != nil {
		return err
	}

	return root.Symlink(target, name)
}

func writeHardLink(root *os.Root, linkname, name string) error {
	source := filepath.Clean(filepath.FromSlash(linkname))
	if !filepath.IsLocal(source) {
		return fmt.Errorf("link to %q: %w", linkname, ErrUnsafePath)
	}

	if err := mkdirAll(root, filepath.Dir(name), defaultDirMode); err != nil {
		return err
	}

	if err := removeNonDir(root, name); err != nil {
		return err
	}

	return root.Link(source, name)
}

func mkdirAll(root *os.Root, name string, perm os.FileMode) error {
	if name == "." {
		return nil
	}

	return root.MkdirAll(name, perm)
}

// removeNonDir deletes name unless it is missing or a directory.
func removeNonDir(root *os.Root, name string) error {
	info, err := root.Lstat(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return err
	}

	if info.IsDir() {
		return nil
	}

	return root.Remove(name)
}
