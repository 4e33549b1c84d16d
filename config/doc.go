// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the proxy configuration structure
// including the listen address, the supervised backend command, the content
// synchronization source and the forwarding retry budget.
package config
