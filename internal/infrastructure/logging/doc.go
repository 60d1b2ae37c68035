// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// The level is a zap.AtomicLevel; the server exposes it so operators can
// turn on debug output for request dispatch without a restart.
//
// Example Usage:
//
//	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
//	b := bridge.New(bridge.Options{Logger: logger.Component("bridge")})
//	logger.Info("Server starting", zap.String("port", "8000"))
package logging
