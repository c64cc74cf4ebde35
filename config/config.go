// Package config provides ServerConfig/ClientConfig builders for the
// toolkit. The core never opens a file or reads an environment variable
// (spec.md §6); the optional JSON loader only accepts a caller-supplied
// io.Reader.
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package config

import (
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// ServerConfig is the full set of tunables a host assembles before
// starting the Services/Sockets/SecureChannels goroutine trio (spec.md §5).
type ServerConfig struct {
	EndpointURL         string        `json:"endpointUrl"`
	MaxChannels         int           `json:"maxChannels"`
	MaxChunkCount       int           `json:"maxChunkCount"`
	MaxBodySize         uint32        `json:"maxBodySize"`
	SecurityPolicies    []string      `json:"securityPolicies"`
	DefaultSessionTimeout time.Duration `json:"defaultSessionTimeout"`
	TokenRenewalFraction  float64       `json:"tokenRenewalFraction"`
	MaxKeepAliveCount   uint32        `json:"maxKeepAliveCount"`
	PublishQueueDepth   int           `json:"publishQueueDepth"`
	RetransmitRingDepth int           `json:"retransmitRingDepth"`
}

// ClientConfig is the minimal tunable set a client-role host needs.
type ClientConfig struct {
	ServerEndpointURL string        `json:"serverEndpointUrl"`
	RequestTimeout    time.Duration `json:"requestTimeout"`
	SecurityPolicy    string        `json:"securityPolicy"`
}

// DefaultServerConfig returns the toolkit's baked-in defaults; callers
// override individual fields rather than constructing from zero value.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxChannels:           100,
		MaxChunkCount:         64,
		MaxBodySize:           16 * 1024 * 1024,
		SecurityPolicies:      []string{"http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"},
		DefaultSessionTimeout: 10 * time.Minute,
		TokenRenewalFraction:  0.75,
		MaxKeepAliveCount:     3,
		PublishQueueDepth:     1000,
		RetransmitRingDepth:   100,
	}
}

// LoadServerConfig overlays JSON fields read from r onto DefaultServerConfig.
// r is the only I/O surface this package touches; the core itself never
// resolves a path or an environment variable (spec.md §6).
func LoadServerConfig(r io.Reader) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	data, err := io.ReadAll(r)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
