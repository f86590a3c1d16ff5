package node

import (
	"path/filepath"
	"testing"
)

func TestLoadConfigCreatesDefaultOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.NetworkType != NetworkMainnet {
		t.Fatalf("NetworkType = %v, want mainnet", cfg.NetworkType)
	}

	path := filepath.Join(dir, ConfigFileName)
	reloaded, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig (second time): %v", err)
	}
	if reloaded.Wire.ProtocolID != cfg.Wire.ProtocolID {
		t.Fatalf("reloaded config's ProtocolID = %q, want %q", reloaded.Wire.ProtocolID, cfg.Wire.ProtocolID)
	}
	_ = path
}

func TestDHTPrefixAndDiscoveryNamespaceByNetwork(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DHTPrefix() != MainnetDHTPrefix || cfg.DiscoveryNamespace() != MainnetDiscoveryNS {
		t.Fatal("mainnet config did not use mainnet DHT prefix/namespace")
	}

	cfg.NetworkType = NetworkTestnet
	if cfg.DHTPrefix() != TestnetDHTPrefix || cfg.DiscoveryNamespace() != TestnetDiscoveryNS {
		t.Fatal("testnet config did not use testnet DHT prefix/namespace")
	}
	if !cfg.IsTestnet() {
		t.Fatal("IsTestnet() false for testnet config")
	}
}
