package stager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/mblock-stager/internal/config"
	"github.com/oshokin/mblock-stager/internal/domain/artifact"
	"github.com/oshokin/mblock-stager/internal/repository/marker"
	"github.com/oshokin/mblock-stager/internal/repository/report"
	"github.com/oshokin/mblock-stager/internal/testutil"
)

const arduinoURL = "https://downloads.example.invalid/dist/arduino-1.8.19-linuxaarch64.tar.xz"

var errBoom = errors.New("boom")

type fakeExtractor struct {
	t     *testing.T
	calls int
	err   error
}

func (f *fakeExtractor) Extract(_ context.Context, archivePath, destDir string) error {
	f.calls++

	if _, err := os.Stat(archivePath); err != nil {
		return err
	}

	if f.err != nil {
		testutil.WriteTree(f.t, destDir, testutil.Entry{Name: "resources/", Dir: true})
		return f.err
	}

	testutil.WriteTree(f.t, destDir,
		testutil.Entry{Name: "resources/ml/index.json", Body: "{}"},
		testutil.Entry{Name: "resources/ml/v1/external/arduino/avr-toolchain/bin/avr-gcc", Body: "bundled"},
	)

	return nil
}

type fakeFetcher struct {
	calls int
	paths []string
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, _, destPath string) (int64, error) {
	f.calls++
	f.paths = append(f.paths, destPath)

	if f.err != nil {
		return 0, f.err
	}

	return 7, os.WriteFile(destPath, []byte("payload"), 0o600)
}

type fakeUnpacker struct {
	t       *testing.T
	calls   int
	entries []testutil.Entry
	err     error
}

func (f *fakeUnpacker) UnpackFile(_ context.Context, _, destDir string) error {
	f.calls++

	testutil.WriteTree(f.t, destDir, f.entries...)

	return f.err
}

type fakeLocker struct {
	err      error
	released bool
}

func (f *fakeLocker) Acquire(context.Context) error {
	return f.err
}

func (f *fakeLocker) Release(context.Context) {
	f.released = true
}

type harness struct {
	cfg       *config.Config
	extractor *fakeExtractor
	fetcher   *fakeFetcher
	unpacker  *fakeUnpacker
}

func newHarness(t *testing.T, withInstaller bool) *harness {
	t.Helper()

	root := t.TempDir()
	cfg := &config.Config{
		BuildDir: filepath.Join(root, "build"),
		MBlock: config.MBlock{
			Installer: filepath.Join(root, "V5.6.0.exe"),
		},
		Arduino: config.Arduino{
			URL: arduinoURL,
		},
	}
	require.NoError(t, config.Validate(cfg))

	if withInstaller {
		require.NoError(t, os.WriteFile(cfg.MBlock.Installer, []byte("MZ"), 0o600))
	}

	return &harness{
		cfg:       cfg,
		extractor: &fakeExtractor{t: t},
		fetcher:   &fakeFetcher{},
		unpacker:  &fakeUnpacker{t: t, entries: testutil.ArduinoTree(cfg.Arduino.Version)},
	}
}

func (h *harness) stager(t *testing.T, opts ...Option) *Stager {
	t.Helper()

	opts = append([]Option{
		WithExtractor(h.extractor),
		WithFetcher(h.fetcher),
		WithUnpacker(h.unpacker),
	}, opts...)

	s, err := New(h.cfg, opts...)
	require.NoError(t, err)

	return s
}

// TestRunStagesEverything extracts, downloads, assembles and reports.
func TestRunStagesEverything(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)

	result, err := h.stager(t).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, h.extractor.calls)
	require.Equal(t, 1, h.fetcher.calls)
	require.Equal(t, 1, h.unpacker.calls)
	require.Equal(t, []string{filepath.Join(h.cfg.ArduinoDownloadDir(), "arduino-1.8.19-linuxaarch64.tar.xz")}, h.fetcher.paths)

	require.Len(t, result.Artifacts, 2)

	for _, record := range result.Artifacts {
		require.Equal(t, artifact.StatePresent, record.State, record.Name)
		require.False(t, record.Skipped, record.Name)
	}

	gcc := filepath.Join(h.cfg.ResourcesDir(), h.cfg.Resources.Toolchain, "avr", "bin", "gcc")
	link, err := os.Readlink(gcc)
	require.NoError(t, err)
	require.Equal(t, "../../bin/avr-gcc", link)

	saved, err := report.NewFileRepository(filepath.Join(h.cfg.BuildDir, report.DefaultFilename)).
		Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, result.ResourcesDir, saved.ResourcesDir)
	require.Equal(t, result.Artifacts, saved.Artifacts)

	_, err = os.Stat(filepath.Join(h.cfg.BuildDir, marker.DefaultFilename))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRunIdempotent skips both artifacts on the second run but rebuilds resources.
func TestRunIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, true)

	_, err := h.stager(t).Run(ctx)
	require.NoError(t, err)

	stale := filepath.Join(h.cfg.ResourcesDir(), "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o600))

	result, err := h.stager(t).Run(ctx)
	require.NoError(t, err)

	require.Equal(t, 1, h.extractor.calls)
	require.Equal(t, 1, h.fetcher.calls)
	require.Equal(t, 1, h.unpacker.calls)

	for _, record := range result.Artifacts {
		require.True(t, record.Skipped, record.Name)
		require.Equal(t, artifact.StatePresent, record.State, record.Name)
	}

	_, err = os.Stat(stale)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRunMissingInstaller stops before any extraction or download.
func TestRunMissingInstaller(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)

	_, err := h.stager(t).Run(context.Background())
	require.ErrorIs(t, err, ErrInstallerMissing)

	require.Zero(t, h.extractor.calls)
	require.Zero(t, h.fetcher.calls)

	_, err = os.Stat(h.cfg.MBlockDir())
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRunExtractFailureDiscardsPartialTree retries the extraction on the next run.
func TestRunExtractFailureDiscardsPartialTree(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, true)
	h.extractor.err = errBoom

	_, err := h.stager(t).Run(ctx)
	require.ErrorIs(t, err, errBoom)
	require.Zero(t, h.fetcher.calls)

	_, err = os.Stat(h.cfg.MBlockDir())
	require.ErrorIs(t, err, os.ErrNotExist)

	h.extractor.err = nil

	result, err := h.stager(t).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, h.extractor.calls)
	require.False(t, result.Artifacts[0].Skipped)
}

// TestRunPresentOutputWithoutInstaller does not need the installer once extracted.
func TestRunPresentOutputWithoutInstaller(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.extractor.calls = -1

	require.NoError(t, h.extractor.Extract(context.Background(), filepath.Dir(h.cfg.MBlock.Installer), h.cfg.MBlockDir()))

	_, err := h.stager(t).Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, h.extractor.calls)
}

// TestRunUnpackFailureDiscardsPartialTree keeps a broken tree from looking staged.
func TestRunUnpackFailureDiscardsPartialTree(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.unpacker.entries = h.unpacker.entries[:4]
	h.unpacker.err = errBoom

	_, err := h.stager(t).Run(context.Background())
	require.ErrorIs(t, err, errBoom)

	_, err = os.Stat(h.cfg.ArduinoDir())
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(h.cfg.ResourcesDir())
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(filepath.Join(h.cfg.BuildDir, report.DefaultFilename))
	require.ErrorIs(t, err, os.ErrNotExist)

	// The next run starts the download over.
	h.unpacker.entries = testutil.ArduinoTree(h.cfg.Arduino.Version)
	h.unpacker.err = nil

	_, err = h.stager(t).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, h.fetcher.calls)
}

// TestRunLayoutMismatch fails when the tarball unpacks to an unexpected directory.
func TestRunLayoutMismatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.unpacker.entries = []testutil.Entry{{Name: "arduino-nightly/", Dir: true}}

	_, err := h.stager(t).Run(context.Background())
	require.ErrorIs(t, err, ErrLayoutMismatch)
}

// TestRunFetchFailure propagates download errors without unpacking.
func TestRunFetchFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.fetcher.err = errBoom

	_, err := h.stager(t).Run(context.Background())
	require.ErrorIs(t, err, errBoom)
	require.Zero(t, h.unpacker.calls)
}

// TestRunClearsDownloadDir removes leftovers of an earlier download.
func TestRunClearsDownloadDir(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	leftover := filepath.Join(h.cfg.ArduinoDownloadDir(), "arduino-1.8.19-linuxaarch64.tar.xz.part")
	testutil.WriteTree(t, h.cfg.ArduinoDownloadDir(), testutil.Entry{Name: filepath.Base(leftover), Body: "half"})

	_, err := h.stager(t).Run(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(leftover)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRunLockerHeld refuses to run while another run holds the build root.
func TestRunLockerHeld(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	locker := &fakeLocker{err: marker.ErrAlreadyRunning}

	_, err := h.stager(t, WithLocker(locker)).Run(context.Background())
	require.ErrorIs(t, err, marker.ErrAlreadyRunning)
	require.Zero(t, h.extractor.calls)
	require.False(t, locker.released)
}

// TestRunReleasesLockerOnFailure frees the build root after a failed phase.
func TestRunReleasesLockerOnFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	locker := new(fakeLocker)

	_, err := h.stager(t, WithLocker(locker), WithReports(nil)).Run(context.Background())
	require.ErrorIs(t, err, ErrInstallerMissing)
	require.True(t, locker.released)
}

// TestNewRejectsBadChecksum reports malformed checksums before any work.
func TestNewRejectsBadChecksum(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.cfg.Arduino.Checksum = "md5:abcd"

	_, err := New(h.cfg)
	require.Error(t, err)
}

// TestInstallerBanner names the version and the expected file.
func TestInstallerBanner(t *testing.T) {
	t.Parallel()

	banner := installerBanner("5.6.0", "V5.6.0.exe")
	require.Contains(t, banner, "DOWNLOAD MBLOCK")
	require.Contains(t, banner, "mBlock 5.6.0")
	require.Contains(t, banner, "V5.6.0.exe")
	require.Greater(t, strings.Count(banner, "\n"), 3)
}

// TestArchiveName keeps the last URL path element.
func TestArchiveName(t *testing.T) {
	t.Parallel()

	name, err := archiveName(arduinoURL + "?mirror=1")
	require.NoError(t, err)
	require.Equal(t, "arduino-1.8.19-linuxaarch64.tar.xz", name)

	_, err = archiveName("https://example.invalid/")
	require.Error(t, err)
}
