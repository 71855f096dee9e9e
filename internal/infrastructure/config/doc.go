// Package config handles loading and validating deviceguard configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with DEVICEGUARD_* environment variables
//   - Validation of required fields (all problems reported at once)
//   - Default value handling
//
// Security Considerations:
//   - The admin password is never configured in clear text; only its
//     Argon2id PHC hash is accepted (see `deviceguard hash-password`)
//   - Prefer DEVICEGUARD_ADMIN_PASSWORD_HASH over the config file
//   - The config file should have restricted permissions (0600)
//
// The guard section carries the whitelist policy surface: auto-blocking of
// unregistered devices, the audit log display level and the audit log
// retention bound. Those three values seed the persisted runtime settings on
// first boot.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Guard.MaxLogSize)
package config
