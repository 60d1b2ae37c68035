// Package watcher keeps the registry of change watchers per file system.
//
// A watcher is identified by its file system and exact entry path. The
// registry also remembers the last notification tag so that a provider can
// replay changes missed while the bridge was down.
package watcher
