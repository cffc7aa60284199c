package artifact

import (
	"fmt"
	"time"
)

// Artifact describes one staged bundle and tracks its progress within a run.
type Artifact struct {
	// Name is a human-readable label used in logs and reports.
	Name string
	// Version is embedded in both the source location and the extracted path.
	Version string
	// Source is a local file path or a URL.
	Source string
	// Path is the directory whose existence means the artifact is staged.
	Path string
	// Remote marks artifacts that have to be downloaded first.
	Remote bool
	// Skipped is set when the artifact was already present at the start of the run.
	Skipped bool

	state State
}

// New returns an artifact in StateMissing.
func New(name, version, source, path string, remote bool) *Artifact {
	return &Artifact{
		Name:    name,
		Version: version,
		Source:  source,
		Path:    path,
		Remote:  remote,
	}
}

// State returns the current state.
func (a *Artifact) State() State {
	return a.state
}

// Advance moves the artifact to the next state.
func (a *Artifact) Advance(to State) error {
	if !canMove(a.state, to, a.Remote) {
		return fmt.Errorf("%s: %s -> %s: %w", a.Name, a.state, to, ErrInvalidTransition)
	}

	a.state = to

	return nil
}

// MarkSkipped records that the artifact was found already staged.
func (a *Artifact) MarkSkipped() {
	a.state = StatePresent
	a.Skipped = true
}

// Record converts the artifact into its report entry.
func (a *Artifact) Record() Record {
	return Record{
		Name:    a.Name,
		Version: a.Version,
		Source:  a.Source,
		Path:    a.Path,
		State:   a.state,
		Skipped: a.Skipped,
	}
}

// Actor identifies who ran the stager.
type Actor struct {
	// Hostname is the machine name where the run happened.
	Hostname string `yaml:"hostname"`
	// Username is the system user that started the run.
	Username string `yaml:"username"`
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// Record is the report entry of a single artifact.
type Record struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Source  string `yaml:"source"`
	Path    string `yaml:"path"`
	State   State  `yaml:"state"`
	Skipped bool   `yaml:"skipped"`
}

// Report summarizes a successful run.
type Report struct {
	// Timestamp is when the resources tree was finished.
	Timestamp time.Time `yaml:"timestamp"`
	// Actor is who ran the stager, nil when it could not be detected.
	Actor *Actor `yaml:"actor,omitempty"`
	// ResourcesDir is the assembled tree handed to the packager.
	ResourcesDir string `yaml:"resources_dir"`
	// Artifacts lists every staged artifact in processing order.
	Artifacts []Record `yaml:"artifacts"`
}
