package stager

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/oshokin/mblock-stager/internal/archive"
	"github.com/oshokin/mblock-stager/internal/config"
	"github.com/oshokin/mblock-stager/internal/domain/artifact"
	"github.com/oshokin/mblock-stager/internal/download"
	"github.com/oshokin/mblock-stager/internal/logger"
	"github.com/oshokin/mblock-stager/internal/repository/marker"
	"github.com/oshokin/mblock-stager/internal/repository/report"
	"github.com/oshokin/mblock-stager/internal/service/common"
	"github.com/oshokin/mblock-stager/internal/service/resources"
)

// ProcessName is the executable name looked up when a run marker is stale.
const ProcessName = "mblock-stager"

var (
	// ErrInstallerMissing is returned when the operator has not provided the mBlock installer.
	ErrInstallerMissing = errors.New("mBlock installer not found")
	// ErrLayoutMismatch is returned when an archive does not produce the expected directory.
	ErrLayoutMismatch = errors.New("archive did not produce the expected directory")
)

// Options contains inputs for the stager entry point.
type Options struct {
	// ConfigPath is an optional settings file (defaults to mblock-stager.yaml).
	ConfigPath string
	// BuildDir overrides the build directory from the settings file.
	BuildDir string
}

// Extractor unpacks a local archive with an external tool.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

// Fetcher downloads a URL to a file and returns its size.
type Fetcher interface {
	Fetch(ctx context.Context, url, destPath string) (int64, error)
}

// Unpacker stream-extracts a compressed tarball.
type Unpacker interface {
	UnpackFile(ctx context.Context, archivePath, destDir string) error
}

// Locker keeps overlapping runs apart.
type Locker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context)
}

// Stager runs the staging phases for one configuration.
type Stager struct {
	// cfg holds every path, version and URL of the run.
	cfg *config.Config
	// extractor unpacks the mBlock installer.
	extractor Extractor
	// fetcher downloads the Arduino tarball.
	fetcher Fetcher
	// unpacker streams the Arduino tarball to disk.
	unpacker Unpacker
	// locker guards the build root, nil disables it.
	locker Locker
	// reports persists the stage report, nil disables it.
	reports report.Repository
	// detectActor identifies who ran the stager.
	detectActor func() (*artifact.Actor, error)
	// now returns the report timestamp.
	now func() time.Time
}

// Option configures a Stager.
type Option func(*Stager)

// WithExtractor replaces the 7-zip extractor.
func WithExtractor(e Extractor) Option {
	return func(s *Stager) {
		s.extractor = e
	}
}

// WithFetcher replaces the HTTP downloader.
func WithFetcher(f Fetcher) Option {
	return func(s *Stager) {
		s.fetcher = f
	}
}

// WithUnpacker replaces the tarball unpacker.
func WithUnpacker(u Unpacker) Option {
	return func(s *Stager) {
		s.unpacker = u
	}
}

// WithLocker replaces the run marker. A nil locker disables it.
func WithLocker(l Locker) Option {
	return func(s *Stager) {
		s.locker = l
	}
}

// WithReports replaces the report repository. A nil repository disables the report.
func WithReports(r report.Repository) Option {
	return func(s *Stager) {
		s.reports = r
	}
}

// Run executes the staging workflow.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, ProcessName)

	if opts == nil {
		opts = new(Options)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	if opts.BuildDir != "" {
		cfg.BuildDir = opts.BuildDir
	}

	s, err := New(cfg)
	if err != nil {
		return fmt.Errorf("initialize stager: %w", err)
	}

	if _, err = s.Run(ctx); err != nil {
		return fmt.Errorf("stager failed: %w", err)
	}

	logger.Info(ctx, "Stager completed successfully")

	return nil
}

// New creates a stager with the default collaborators, replaced by opts.
func New(cfg *config.Config, opts ...Option) (*Stager, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	checksum, err := download.ParseChecksum(cfg.Arduino.Checksum)
	if err != nil {
		return nil, err
	}

	s := &Stager{
		cfg:       cfg,
		extractor: archive.NewSevenZip(cfg.MBlock.Extractor),
		fetcher: download.NewClient(
			download.WithChecksum(checksum),
			download.WithTimeout(cfg.Arduino.Timeout),
		),
		unpacker:    archive.NewTarUnpacker(),
		locker:      marker.New(cfg.BuildDir, ProcessName),
		reports:     report.NewFileRepository(filepath.Join(cfg.BuildDir, report.DefaultFilename)),
		detectActor: common.DetectActor,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Run executes every phase in order and returns the stage report.
func (s *Stager) Run(ctx context.Context) (*artifact.Report, error) {
	if err := s.EnsureBuildRoot(ctx); err != nil {
		return nil, err
	}

	if s.locker != nil {
		if err := s.locker.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("acquire run marker: %w", err)
		}

		defer s.locker.Release(ctx)
	}

	mblock, err := s.EnsureLocalArchiveExtracted(ctx, s.cfg.MBlock.Installer, s.cfg.MBlockDir())
	if err != nil {
		return nil, err
	}

	arduino, err := s.EnsureRemoteArchiveFetchedAndExtracted(ctx,
		s.cfg.Arduino.URL, s.cfg.ArduinoDownloadDir(), s.cfg.ArduinoDir())
	if err != nil {
		return nil, err
	}

	layout := resources.Layout{
		TemplateDir:       s.cfg.TemplateDir(),
		OutputDir:         s.cfg.ResourcesDir(),
		ReplacementSource: s.cfg.ToolchainSourceDir(),
		ReplacementDir:    s.cfg.Resources.Toolchain,
		Repairs:           s.cfg.Resources.Symlinks,
	}

	if err = resources.Assemble(ctx, layout); err != nil {
		return nil, fmt.Errorf("assemble resources: %w", err)
	}

	result := &artifact.Report{
		Timestamp:    s.now(),
		Actor:        s.actor(ctx),
		ResourcesDir: layout.OutputDir,
		Artifacts:    []artifact.Record{mblock.Record(), arduino.Record()},
	}

	if s.reports != nil {
		if err = s.reports.Save(ctx, result); err != nil {
			return nil, fmt.Errorf("save stage report: %w", err)
		}
	}

	return result, nil
}

// EnsureBuildRoot creates the build directory if necessary.
func (s *Stager) EnsureBuildRoot(ctx context.Context) error {
	logger.DebugKV(ctx, "Ensuring build directory", "path", s.cfg.BuildDir)

	if err := os.MkdirAll(s.cfg.BuildDir, 0o755); err != nil {
		return fmt.Errorf("create build directory: %w", err)
	}

	return nil
}

// EnsureLocalArchiveExtracted extracts the installer into outputDir unless it already exists.
func (s *Stager) EnsureLocalArchiveExtracted(
	ctx context.Context,
	installer, outputDir string,
) (*artifact.Artifact, error) {
	a := artifact.New("mBlock", s.cfg.MBlock.Version, installer, outputDir, false)

	present, err := exists(outputDir)
	if err != nil {
		return a, err
	}

	if present {
		logger.Info(ctx, "Skipped mBlock extraction")
		a.MarkSkipped()

		return a, nil
	}

	found, err := exists(installer)
	if err != nil {
		return a, err
	}

	if !found {
		logger.Error(ctx, installerBanner(s.cfg.MBlock.Version, installer))
		return a, fmt.Errorf("%s: %w", installer, ErrInstallerMissing)
	}

	if err = a.Advance(artifact.StateExtracting); err != nil {
		return a, err
	}

	logger.InfoKV(ctx, "Extracting mBlock", "installer", installer, "destination", outputDir)

	if err = s.extractor.Extract(ctx, installer, outputDir); err != nil {
		discard(ctx, outputDir)
		return a, fmt.Errorf("extract mBlock: %w", err)
	}

	if err = a.Advance(artifact.StatePresent); err != nil {
		return a, err
	}

	logger.Info(ctx, "Finished mBlock extraction")

	return a, nil
}

// EnsureRemoteArchiveFetchedAndExtracted downloads rawURL into downloadDir and
// unpacks it there unless expectedDir already exists.
func (s *Stager) EnsureRemoteArchiveFetchedAndExtracted(
	ctx context.Context,
	rawURL, downloadDir, expectedDir string,
) (*artifact.Artifact, error) {
	a := artifact.New("Arduino", s.cfg.Arduino.Version, rawURL, expectedDir, true)

	present, err := exists(expectedDir)
	if err != nil {
		return a, err
	}

	if present {
		logger.Info(ctx, "Skipped Arduino download")
		a.MarkSkipped()

		return a, nil
	}

	name, err := archiveName(rawURL)
	if err != nil {
		return a, err
	}

	if err = a.Advance(artifact.StateFetching); err != nil {
		return a, err
	}

	logger.InfoKV(ctx, "Downloading Arduino", "url", rawURL)

	if err = os.RemoveAll(downloadDir); err != nil {
		return a, fmt.Errorf("remove download directory: %w", err)
	}

	if err = os.MkdirAll(downloadDir, 0o755); err != nil {
		return a, fmt.Errorf("create download directory: %w", err)
	}

	archivePath := filepath.Join(downloadDir, name)

	if _, err = s.fetcher.Fetch(ctx, rawURL, archivePath); err != nil {
		return a, fmt.Errorf("download Arduino: %w", err)
	}

	if err = a.Advance(artifact.StateExtracting); err != nil {
		return a, err
	}

	logger.InfoKV(ctx, "Extracting Arduino", "archive", archivePath)

	if err = s.unpacker.UnpackFile(ctx, archivePath, downloadDir); err != nil {
		discard(ctx, expectedDir)
		return a, fmt.Errorf("extract Arduino: %w", err)
	}

	present, err = exists(expectedDir)
	if err != nil {
		return a, err
	}

	if !present {
		return a, fmt.Errorf("%s: %w", expectedDir, ErrLayoutMismatch)
	}

	if err = a.Advance(artifact.StatePresent); err != nil {
		return a, err
	}

	logger.Info(ctx, "Finished Arduino download")

	return a, nil
}

// actor returns the report actor, nil when it cannot be detected.
func (s *Stager) actor(ctx context.Context) *artifact.Actor {
	if s.detectActor == nil {
		return nil
	}

	actor, err := s.detectActor()
	if err != nil {
		logger.WarnKV(ctx, "Unable to detect actor", "error", err)
		return nil
	}

	return actor
}

// installerBanner is the operator instruction printed when the installer is missing.
func installerBanner(version, installer string) string {
	const rule = "***************************************************"

	var builder strings.Builder

	builder.WriteString("\n")
	builder.WriteString("************** ERROR: DOWNLOAD MBLOCK *************\n")
	builder.WriteString("mBlock installer not found! Please download the\n")
	builder.WriteString("Windows installer for mBlock ")
	builder.WriteString(version)
	builder.WriteString(" and place it\n")
	builder.WriteString("in the project root folder as ")
	builder.WriteString(installer)
	builder.WriteString(".\n")
	builder.WriteString(rule)

	return builder.String()
}

// archiveName is the last element of the URL path.
func archiveName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return "", fmt.Errorf("%q has no file name: %w", rawURL, ErrLayoutMismatch)
	}

	return name, nil
}

// discard removes a partially unpacked tree so the next run starts over.
func discard(ctx context.Context, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logger.WarnKV(ctx, "Unable to remove partial tree", "path", dir, "error", err)
	}
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
}
