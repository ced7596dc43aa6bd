// Package source locates script artifacts on disk. A Resolver maps a
// requested script name to exactly one .lua file across the configured
// search paths, with optional per-directory manifests supplying display
// metadata, and a Watcher invalidates the resolver's discovery cache when
// a watched directory changes.
package source
