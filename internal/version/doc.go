// Package version exposes build metadata for mblock-stager.
//
// Version, Commit and BuildTime are injected through -ldflags. Full is
// printed by the `version` subcommand and UserAgent identifies downloads.
package version
