package download

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
)

var (
	// ErrChecksumMismatch is returned when the downloaded bytes do not match the pinned checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// errBadChecksum is returned for malformed "algorithm:hex" strings.
	errBadChecksum = errors.New("checksum must look like sha256:<hex>, sha512:<hex> or blake3:<hex>")
)

// Checksum pins the expected digest of a download.
type Checksum struct {
	Algorithm string
	Sum       []byte
}

// ParseChecksum parses "algorithm:hex". An empty string yields nil.
func ParseChecksum(s string) (*Checksum, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil //nolint:nilnil // No checksum pinned.
	}

	algorithm, digest, ok := strings.Cut(s, ":")
	if !ok {
		return nil, errBadChecksum
	}

	algorithm = strings.ToLower(algorithm)

	sum, err := hex.DecodeString(digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadChecksum, err)
	}

	c := &Checksum{Algorithm: algorithm, Sum: sum}

	h, err := c.newHash()
	if err != nil {
		return nil, err
	}

	if len(sum) != h.Size() {
		return nil, fmt.Errorf("%s digest has %d bytes, want %d: %w", algorithm, len(sum), h.Size(), errBadChecksum)
	}

	return c, nil
}

// String renders the checksum back to "algorithm:hex".
func (c *Checksum) String() string {
	return c.Algorithm + ":" + hex.EncodeToString(c.Sum)
}

func (c *Checksum) newHash() (hash.Hash, error) {
	switch c.Algorithm {
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "blake3":
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("algorithm %q: %w", c.Algorithm, errBadChecksum)
	}
}

// verify compares the digest accumulated in h.
func (c *Checksum) verify(h hash.Hash) error {
	got := h.Sum(nil)
	if !bytes.Equal(got, c.Sum) {
		return fmt.Errorf("%s: got %s, want %s: %w",
			c.Algorithm, hex.EncodeToString(got), hex.EncodeToString(c.Sum), ErrChecksumMismatch)
	}

	return nil
}
