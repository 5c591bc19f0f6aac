// Package config handles application configuration loading and validation.
//
// Configuration is loaded from a YAML file over built-in defaults and
// validated using struct tags plus cross-field checks. Deployment-varying
// knobs (store DSN, listen addresses, NATS URL) may be overridden from the
// environment, with .env files loaded first. Every defect is surfaced as
// a *ConfigurationError before any processing starts.
package config
