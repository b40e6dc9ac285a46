package config

import "errors"

var (
	// ErrMissingCredentialSource indicates neither a credential file nor a
	// master key for the secure store was configured.
	ErrMissingCredentialSource = errors.New("credential.filePath or CREDENTIAL_MASTER_KEY is required")

	// ErrInvalidEvictionPolicy indicates CACHE_EVICTION_POLICY was not one of
	// LRU, LFU, FIFO.
	ErrInvalidEvictionPolicy = errors.New("cache.evictionPolicy must be one of LRU, LFU, FIFO")

	// ErrConfigFileNotFound indicates the optional JSON config file path was
	// set but does not exist.
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates the optional JSON config file has
	// invalid JSON.
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")
)
