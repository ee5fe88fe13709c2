// Package workspace manages per-job staging directories.
//
// Each build job gets a fresh x360make-<timestamp>-<id> directory that holds
// downloaded archives and extracted sources. The directory is removed when the
// job ends unless retention is enabled, in which case Prune clears old ones.
package workspace
