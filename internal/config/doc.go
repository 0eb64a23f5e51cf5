// Package config provides centralized configuration management for the
// entitlement service. It loads configuration from environment variables and
// an optional YAML file, validates it, and resolves file system paths.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern ENTITLE_* for namespacing:
//
//	ENTITLE_SERVER_PORT=8080
//	ENTITLE_LICENSE_TRIAL_PERIOD_DAYS=14
//	ENTITLE_LICENSE_SERVICE_URL=https://licenses.example.com
//	ENTITLE_LICENSE_STORE_SECRET=...
//	ENTITLE_LOGGING_LEVEL=debug
//
// The YAML file is read from ENTITLE_CONFIG_FILE, or from entitle.yaml or
// configs/entitle.yaml in the working directory.
//
// # Path Management
//
// ResolvePaths anchors relative data, log and state file paths at the base
// directory, which defaults to the directory of the running executable:
//
//	paths, err := config.ResolvePaths(cfg.Paths)
//	if err != nil {
//	    return err
//	}
//	if err := paths.EnsureDirectories(); err != nil {
//	    return err
//	}
package config
