// Package report persists the stage report written after a successful run.
//
// The FileRepository stores and loads the report as YAML next to the build
// artifacts so the packager step (or a human) can see what was staged.
package report
