// Package config handles loading and validating the BLE bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GRAYLOGIC_BLE_* environment variables
//   - Validation of required fields and configured light addresses
//   - Default value handling
//
// Security Considerations:
//   - MQTT passwords and the InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridge.ID, cfg.Bridge.Zone)
package config
