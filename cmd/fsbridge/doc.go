// Package main is the entry point of the fsbridge server.
//
// fsbridge lets file system providers plug virtual volumes into the OS
// shell. The shell talks to the bridge over HTTP; a provider either runs
// in process (the local directory provider) or connects over WebSocket.
//
// Architecture:
//
//	Shell → HTTP API → Bridge → local directory provider
//	                          → remote provider (/provider socket)
//	Shell ← /events socket ← change notifications
//
// Configuration:
//   - Environment variables (PORT, LOCAL_ROOT, MOUNTS_FILE, STATE_PATH, ...)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Serve one directory as "local"
//	./fsbridge -root /srv/share
//
//	# Serve declared mounts and remember persistent ones
//	./fsbridge -mounts mounts.yaml -state /var/lib/fsbridge/state.json
//
//	# No local mounts: wait for a provider on ws://host:8000/provider
//	./fsbridge -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
