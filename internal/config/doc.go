// Package config provides centralized configuration management for the
// IntentChain runtime. Core settings come from a JSON file whose path is
// taken from the INTENTCHAIN_CONFIG environment variable; chain endpoint
// definitions live in a separate YAML file referenced by ledger.chain_config.
package config
