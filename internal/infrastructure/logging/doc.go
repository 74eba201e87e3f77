// Package logging provides structured logging using uber/zap.
//
// Two output modes are available:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// Components get named children of the root logger, so every line carries
// the component that wrote it:
//
//	logger := logging.NewDefault()
//	pool := logger.Named("coordinator")
//	pool.Info("Context ready", zap.String("pool_key", key))
//
// Console output of sandbox contexts is routed through the "sandbox" child
// when DevTools is on.
package logging
