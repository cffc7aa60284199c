package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Format is the container and compression of a tarball.
type Format string

const (
	// FormatTar is an uncompressed tarball.
	FormatTar Format = "tar"
	// FormatTarXz is an xz (LZMA2) compressed tarball.
	FormatTarXz Format = "tar.xz"
	// FormatTarZst is a zstd compressed tarball.
	FormatTarZst Format = "tar.zst"
	// FormatTarGz is a gzip compressed tarball.
	FormatTarGz Format = "tar.gz"
	// FormatTarLz4 is an lz4 frame compressed tarball.
	FormatTarLz4 Format = "tar.lz4"
)

// ErrUnknownFormat is returned for file names without a supported suffix.
var ErrUnknownFormat = errors.New("unknown archive format")

//nolint:gochecknoglobals // Read-only lookup table.
var formatSuffixes = []struct {
	suffix string
	format Format
}{
	{".tar.xz", FormatTarXz},
	{".txz", FormatTarXz},
	{".tar.zst", FormatTarZst},
	{".tzst", FormatTarZst},
	{".tar.gz", FormatTarGz},
	{".tgz", FormatTarGz},
	{".tar.lz4", FormatTarLz4},
	{".tar", FormatTar},
}

// DetectFormat picks the format from the file name suffix.
func DetectFormat(name string) (Format, error) {
	lower := strings.ToLower(name)

	for _, candidate := range formatSuffixes {
		if strings.HasSuffix(lower, candidate.suffix) {
			return candidate.format, nil
		}
	}

	return "", fmt.Errorf("%s: %w", name, ErrUnknownFormat)
}

// NewDecoder wraps r with the decompressor of format.
func NewDecoder(format Format, r io.Reader) (io.ReadCloser, error) {
	switch format {
	case FormatTar:
		return io.NopCloser(r), nil
	case FormatTarXz:
		dec, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("xz reader: %w", err)
		}

		return io.NopCloser(dec), nil
	case FormatTarZst:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}

		return dec.IOReadCloser(), nil
	case FormatTarGz:
		dec, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}

		return dec, nil
	case FormatTarLz4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}
}

// DecodeStage decompresses its input with the decoder of format.
func DecodeStage(format Format) Stage {
	return func(_ context.Context, in io.Reader, out io.Writer) error {
		dec, err := NewDecoder(format, in)
		if err != nil {
			return err
		}

		defer func() {
			_ = dec.Close()
		}()

		if _, err = io.Copy(out, dec); err != nil {
			return fmt.Errorf("decode %s: %w", format, err)
		}

		return nil
	}
}
