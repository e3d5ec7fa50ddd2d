// Package logging provides structured logging for the bridge.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same handler, level and default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	lamp := logger.Accessory("Desk Lamp", "9d3b8a6e-...")
//	lamp.Info("status poll failed", "error", err)
//
// Never log MQTT passwords, webhook URLs or bearer tokens.
package logging
