// Package artifact contains the core domain types of the stager.
//
// An Artifact is a versioned third-party bundle staged into the build tree.
// Its State only moves forward (Missing, Fetching, Extracting, Present) and
// is never persisted: every run derives it again from the filesystem.
// Report summarizes a successful run for the downstream packager.
package artifact
