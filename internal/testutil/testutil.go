// Package testutil builds archive fixtures and fake tools shared by tests.
package testutil

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

// Entry is a single tar member.
type Entry struct {
	Name string
	// Body is the file content. Ignored for directories and links.
	Body string
	// Mode defaults to 0644 for files and 0755 for directories.
	Mode int64
	// Link makes the entry a symlink pointing at Link.
	Link string
	// Dir makes the entry a directory.
	Dir bool
}

// Tar returns an uncompressed tarball of entries.
func Tar(t *testing.T, entries ...Entry) []byte {
	t.Helper()

	var buf bytes.Buffer

	tw := tar.NewWriter(&buf)
	modTime := time.Date(2021, 12, 21, 0, 0, 0, 0, time.UTC)

	for _, e := range entries {
		hdr := &tar.Header{
			Name:    e.Name,
			Mode:    e.Mode,
			ModTime: modTime,
		}

		switch {
		case e.Dir:
			hdr.Typeflag = tar.TypeDir
			if hdr.Mode == 0 {
				hdr.Mode = 0o755
			}
		case e.Link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.Link
			hdr.Mode = 0o777
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Body))
			if hdr.Mode == 0 {
				hdr.Mode = 0o644
			}
		}

		require.NoError(t, tw.WriteHeader(hdr))

		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.Body))
			require.NoError(t, err)
		}
	}

	require.NoError(t, tw.Close())

	return buf.Bytes()
}

// TarXz returns an xz compressed tarball of entries.
func TarXz(t *testing.T, entries ...Entry) []byte {
	t.Helper()

	var buf bytes.Buffer

	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)

	_, err = w.Write(Tar(t, entries...))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// ArduinoTree returns tar entries shaped like an Arduino 1.8.x distribution
// whose AVR toolchain still carries the unprefixed avr/bin names.
func ArduinoTree(version string) []Entry {
	root := "arduino-" + version + "/hardware/tools/avr/"

	return []Entry{
		{Name: "arduino-" + version + "/", Dir: true},
		{Name: "arduino-" + version + "/arduino", Body: "#!/bin/sh\n", Mode: 0o755},
		{Name: root, Dir: true},
		{Name: root + "avr/bin/", Dir: true},
		{Name: root + "avr/bin/gcc", Body: "stale"},
		{Name: root + "avr/bin/g++", Body: "stale"},
		{Name: root + "bin/", Dir: true},
		{Name: root + "bin/avr-gcc", Body: "gcc", Mode: 0o755},
		{Name: root + "bin/avr-g++", Body: "g++", Mode: 0o755},
		{Name: root + "bin/avr-ld.bfd", Body: "ld", Mode: 0o755},
		{Name: root + "bin/avr-c++", Body: "copy of g++", Mode: 0o755},
		{Name: root + "bin/avr-gcc-7.3.0", Body: "copy of gcc", Mode: 0o755},
		{Name: root + "bin/avr-ld", Body: "copy of ld", Mode: 0o755},
		{Name: root + "lib/", Dir: true},
		{Name: root + "lib/libcc1.so.0.0.0", Body: "libcc1"},
		{Name: root + "lib/libcc1.so", Body: "copy"},
		{Name: root + "lib/libcc1.so.0", Body: "copy"},
		{Name: root + "libexec/gcc/avr/7.3.0/", Dir: true},
		{Name: root + "libexec/gcc/avr/7.3.0/liblto_plugin.so.0.0.0", Body: "lto"},
		{Name: root + "libexec/gcc/avr/7.3.0/liblto_plugin.so", Body: "copy"},
		{Name: root + "libexec/gcc/avr/7.3.0/liblto_plugin.so.0", Body: "copy"},
	}
}

// WriteTree materializes entries under root the way a tar unpacker would.
func WriteTree(t *testing.T, root string, entries ...Entry) {
	t.Helper()

	for _, e := range entries {
		path := filepath.Join(root, filepath.FromSlash(e.Name))

		switch {
		case e.Dir:
			require.NoError(t, os.MkdirAll(path, 0o755))
		case e.Link != "":
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
			require.NoError(t, os.Symlink(e.Link, path))
		default:
			mode := os.FileMode(0o644)
			if e.Mode != 0 {
				mode = os.FileMode(e.Mode)
			}

			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
			require.NoError(t, os.WriteFile(path, []byte(e.Body), mode))
		}
	}
}

// FakeSevenZip writes a shell script that mimics `7za x ARCHIVE -oDIR -y` by
// creating files (relative path -> content) under DIR. The script is left
// non-executable so callers have to restore its mode. Skips on Windows.
func FakeSevenZip(t *testing.T, files map[string]string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake 7-zip is a POSIX shell script")
	}

	var script strings.Builder

	script.WriteString("#!/bin/sh\nout=\nfor arg in \"$@\"; do\n  case \"$arg\" in\n    -o*) out=\"${arg#-o}\" ;;\n  esac\ndone\n")
	script.WriteString("[ -n \"$out\" ] || { echo 'missing -o' >&2; exit 2; }\n")

	for name, body := range files {
		path := "\"$out/" + filepath.ToSlash(name) + "\""
		script.WriteString("mkdir -p \"$(dirname " + path + ")\"\n")
		script.WriteString("printf '%s' '" + body + "' > " + path + "\n")
	}

	binary := filepath.Join(t.TempDir(), "7za")
	require.NoError(t, os.WriteFile(binary, []byte(script.String()), 0o600))

	return binary
}

// FailingSevenZip writes a script that prints message and exits with status 2.
func FailingSevenZip(t *testing.T, message string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake 7-zip is a POSIX shell script")
	}

	binary := filepath.Join(t.TempDir(), "7za")
	script := "#!/bin/sh\necho '" + message + "' >&2\nexit 2\n"
	require.NoError(t, os.WriteFile(binary, []byte(script), 0o600))

	return binary
}
