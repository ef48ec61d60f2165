// Package log provides structured protocol logging for cuesync.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, chunk, sync,
// schedule). It is separate from operational logging (slog): protocol
// capture is a machine-readable trace of every exchange and every estimator
// step, for debugging convergence and timing problems after the fact.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For field capture: write to a binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/cuesync/child.clog")
//
//	// Both
//	cfg.ProtocolLogger = log.Tee(adapter, fileLogger)
//
// # Event Types
//
//   - Transport: raw frame bytes (FrameEvent)
//   - Sync/Schedule: decoded protocol messages (MessageEvent)
//   - Sync: estimator steps (EstimateEvent)
//   - Any layer: state changes, control messages and errors
//
// # File Format
//
// Log files (.clog) carry a five byte header, "CLOG" and a version byte,
// followed by a stream of CBOR-encoded events. FileLogger buffers writes;
// Reader streams them back with an optional Filter. The cuesync-log
// command views, filters and summarizes them.
package log
