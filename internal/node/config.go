// Package node wires together the libp2p host, the gossip/request-response
// protocol handler, and the proof-of-work queue into a running Bitmessage-
// style store-and-forward node.
package node

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkType represents the network (mainnet or testnet).
type NetworkType string

const (
	NetworkMainnet NetworkType = "mainnet"
	NetworkTestnet NetworkType = "testnet"
)

// Network-specific constants for peer separation.
const (
	MainnetDHTPrefix   = "/bitmessage"
	MainnetDiscoveryNS = "shadowmail-mainnet"

	TestnetDHTPrefix   = "/shadowmail-testnet"
	TestnetDiscoveryNS = "shadowmail-testnet"
)

// Config holds all configuration for the P2P node.
type Config struct {
	NetworkType NetworkType `yaml:"network_type"`

	Identity IdentityConfig `yaml:"identity"`
	Network  NetworkConfig  `yaml:"network"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Crypto   CryptoConfig   `yaml:"crypto"`
	Wire     WireConfig     `yaml:"wire"`
}

// DHTPrefix returns the DHT protocol prefix for the configured network.
func (c *Config) DHTPrefix() string {
	if c.NetworkType == NetworkTestnet {
		return TestnetDHTPrefix
	}
	return MainnetDHTPrefix
}

// DiscoveryNamespace returns the discovery namespace for the configured
// network.
func (c *Config) DiscoveryNamespace() string {
	if c.NetworkType == NetworkTestnet {
		return TestnetDiscoveryNS
	}
	return MainnetDiscoveryNS
}

// IsTestnet returns true if running on testnet.
func (c *Config) IsTestnet() bool {
	return c.NetworkType == NetworkTestnet
}

// IdentityConfig holds identity-related settings.
type IdentityConfig struct {
	// KeyFile is the path to the node's libp2p transport key (distinct
	// from the Bitmessage signing/encryption identities held in storage).
	KeyFile string `yaml:"key_file"`
}

// NetworkConfig holds P2P network settings.
type NetworkConfig struct {
	ListenAddrs    []string `yaml:"listen_addrs"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`

	EnableMDNS         bool `yaml:"enable_mdns"`
	EnableDHT          bool `yaml:"enable_dht"`
	EnableRelay        bool `yaml:"enable_relay"`
	EnableNAT          bool `yaml:"enable_nat"`
	EnableHolePunching bool `yaml:"enable_hole_punching"`

	ConnMgr ConnMgrConfig `yaml:"conn_mgr"`
}

// ConnMgrConfig holds connection manager settings.
type ConnMgrConfig struct {
	LowWater    int           `yaml:"low_water"`
	HighWater   int           `yaml:"high_water"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// CryptoConfig holds the PoW parameters objects are built with when this
// node composes a message (spec §4.2).
type CryptoConfig struct {
	NonceTrialsPerByte uint64 `yaml:"nonce_trials_per_byte"`
	ExtraBytes         uint64 `yaml:"extra_bytes"`
	// MessageTTL is how long a composed Msg or Getpubkey object is valid
	// for before it expires out of the network's inventory. Pubkey
	// objects sent in answer to a Getpubkey are always valid for 28 days.
	MessageTTL time.Duration `yaml:"message_ttl"`
}

// WireConfig holds the custom stream protocol's framing parameters.
type WireConfig struct {
	// ProtocolID is the libp2p stream protocol ID the handler registers.
	ProtocolID string `yaml:"protocol_id"`
	// MaxFrameBytes caps a single length-prefixed frame, guarding against
	// a misbehaving or malicious peer claiming an unbounded body.
	MaxFrameBytes uint32 `yaml:"max_frame_bytes"`
	// InventorySyncInterval is how often the node pulls every connected
	// peer's inventory over the stream protocol (ReqInv/Inv/GetData/Objects).
	InventorySyncInterval time.Duration `yaml:"inventory_sync_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NetworkType: NetworkMainnet,
		Identity: IdentityConfig{
			KeyFile: "node.key",
		},
		Network: NetworkConfig{
			ListenAddrs: []string{
				"/ip4/0.0.0.0/tcp/4001",
				"/ip4/0.0.0.0/udp/4001/quic-v1",
				"/ip6/::/tcp/4001",
				"/ip6/::/udp/4001/quic-v1",
			},
			BootstrapPeers:     []string{},
			EnableMDNS:         true,
			EnableDHT:          true,
			EnableRelay:        true,
			EnableNAT:          true,
			EnableHolePunching: true,
			ConnMgr: ConnMgrConfig{
				LowWater:    100,
				HighWater:   400,
				GracePeriod: time.Minute,
			},
		},
		Storage: StorageConfig{
			DataDir: "~/.shadowmail",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Crypto: CryptoConfig{
			NonceTrialsPerByte: 1000,
			ExtraBytes:         1000,
			MessageTTL:         7 * 24 * time.Hour,
		},
		Wire: WireConfig{
			ProtocolID:             "/bitmessage/1.0",
			MaxFrameBytes:          10 * 1024 * 1024,
			InventorySyncInterval: 5 * time.Minute,
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file, creating one with
// default values if it doesn't exist yet.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# shadowmail node configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data
// directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
