// Package config provides 12-factor configuration management for the bridge server.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Bridge: request timeout, state file, change event buffers, breaker
//   - Provider: local directory provider roots, page and chunk sizes
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//
// Mounts served by the local provider can be declared in a YAML or TOML file
// named by MOUNTS_FILE:
//
//	mounts:
//	  - fileSystemId: docs
//	    displayName: Documents
//	    root: /srv/docs
//	    writable: true
//	    watchable: true
//	    ignore: ["**/.git/**"]
//
// Environment Variables:
//   - PORT, HOST
//   - STATE_PATH, STATE_BACKUPS, REQUEST_TIMEOUT, EVENT_BUFFER, EVENT_HISTORY
//   - BREAKER_FAILURES, BREAKER_TIMEOUT
//   - LOCAL_ROOT, MOUNTS_FILE, PAGE_SIZE, READ_CHUNK
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
