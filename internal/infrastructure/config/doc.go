// Package config loads and validates the bridge configuration.
//
// This package manages:
//   - Loading configuration from a YAML file
//   - Overriding broker credentials, database path and API secret from
//     HTTPBRIDGE_* environment variables
//   - Structural validation of the accessory list
//   - Resolving per-accessory identity (name fallback, stable ID) and the
//     per-accessory MQTT session settings
//
// Security Considerations:
//   - MQTT passwords and the API JWT secret should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	for _, a := range cfg.Accessories {
//	    fmt.Println(a.ResolvedName(), a.ResolvedID())
//	}
package config
