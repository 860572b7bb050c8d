// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// A .env file next to the config file, when present, is loaded into the
// environment first; variables already set are not overridden.
package config
