// Package config loads and validates gateway configuration from YAML.
//
// Files may reference environment variables with ${VAR} syntax; they are
// expanded before parsing. Optional fields get defaults applied before
// validation, so a minimal file only names the instance, broker, bus and
// database settings.
package config
