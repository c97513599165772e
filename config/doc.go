// Package config handles loading and parsing of configuration from YAML
// files and environment variables. It defines the routing rules, timeout,
// pooling and circuit breaker settings, and supports hot reload of the
// configuration file.
package config
