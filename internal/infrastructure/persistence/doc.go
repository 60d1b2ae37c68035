/*
Package persistence stores persistent mount records between restarts.

FileStore implements the bridge state store. Save is called while the bridge
holds its lock, so it only swaps in the newest snapshot; a single writer
goroutine serializes it with sonic and replaces the state file atomically.
Up to STATE_BACKUPS previous copies are kept as state.json.1, state.json.2
and so on, and Load falls back to them when the current file is corrupt.

	store, err := persistence.NewFileStore(cfg.Bridge.StatePath, cfg.Bridge.StateBackups, logger)
	b := bridge.New(bridge.Options{Store: store, ...})
	defer store.Close()
*/
package persistence
