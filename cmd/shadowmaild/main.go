// Package main provides the shadowmaild daemon - a store-and-forward
// encrypted messaging node.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/shadowmail/internal/node"
	"github.com/klingon-exchange/shadowmail/internal/object"
	"github.com/klingon-exchange/shadowmail/internal/pow"
	"github.com/klingon-exchange/shadowmail/internal/storage"
	"github.com/klingon-exchange/shadowmail/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir        = flag.String("data-dir", "~/.shadowmail", "Data directory")
		configFile     = flag.String("config", "", "Config file path; only its directory is used, and config.yaml is read from there (default: <data-dir>/config.yaml)")
		listenAddr     = flag.String("listen", "", "Listen address (multiaddr), overrides config")
		enableMDNS     = flag.Bool("mdns", true, "Enable mDNS discovery")
		enableDHT      = flag.Bool("dht", true, "Enable DHT discovery")
		testnet        = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		bootstrapPeers = flag.String("bootstrap", "", "Bootstrap peers (comma-separated multiaddrs)")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("shadowmaild %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	var cfg *node.Config
	var err error
	if *configFile != "" {
		cfg, err = node.LoadConfig(filepath.Dir(*configFile))
	} else {
		cfg, err = node.LoadConfig(effectiveDataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	if *listenAddr != "" {
		cfg.Network.ListenAddrs = []string{*listenAddr}
	}
	cfg.Network.EnableMDNS = *enableMDNS
	cfg.Network.EnableDHT = *enableDHT
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = effectiveDataDir

	if *testnet {
		cfg.NetworkType = node.NetworkTestnet
	} else {
		cfg.NetworkType = node.NetworkMainnet
	}
	if *bootstrapPeers != "" {
		cfg.Network.BootstrapPeers = parseBootstrapPeers(*bootstrapPeers)
	}

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", node.ConfigPath(effectiveDataDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(&storage.Config{DataDir: expandPath(cfg.Storage.DataDir)})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", expandPath(cfg.Storage.DataDir))

	addresses := storage.NewAddressRepository(store)
	inventory := storage.NewInventoryRepository(store)
	messages := storage.NewMessageRepository(store)
	throttle := storage.NewPubkeySendThrottle(store)

	identity, err := ensureDefaultIdentity(ctx, addresses, log)
	if err != nil {
		log.Fatal("Failed to load or create default identity", "error", err)
	}
	log.Info("Default identity ready", "address", identity.StringRepr)

	log.Info("Starting shadowmail P2P node...")
	n, err := node.New(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to create node", "error", err)
	}

	var worker *node.Worker
	powQueue := pow.NewQueue(inventory, func(obj *object.Object) {
		if worker != nil {
			worker.OnNonceCalculated(obj)
		}
	}, log)

	pubkeyNotify := make(chan string, 32)
	handler := node.NewHandler(cfg, addresses, inventory, messages, throttle, powQueue, pubkeyNotify, log)
	worker = node.NewWorker(n, cfg, handler, addresses, inventory, messages, powQueue, pubkeyNotify, log)

	// node.NewClient(worker.Commands(), log) is the hook an external UI
	// process drives the node's local commands through; this daemon
	// exposes no transport for it of its own (spec §4.5/§10).

	if err := worker.Start(ctx); err != nil {
		log.Fatal("Failed to start worker", "error", err)
	}
	if err := n.Start(); err != nil {
		log.Fatal("Failed to start node", "error", err)
	}

	printBanner(log, n, cfg, identity)

	nodeLog := log.Component("p2p")
	n.OnPeerConnected(func(p peer.ID) {
		nodeLog.Info("Peer connected", "peer", shortID(p), "total", n.PeerCount())
	})
	n.OnPeerDisconnected(func(p peer.ID) {
		nodeLog.Info("Peer disconnected", "peer", shortID(p), "total", n.PeerCount())
	})

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info("Status", "peers", n.PeerCount(), "uptime", n.Uptime().Round(time.Second))
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed, err := inventory.Cleanup(ctx); err != nil {
					log.Error("Inventory cleanup failed", "error", err)
				} else if removed > 0 {
					log.Info("Inventory cleanup", "removed", removed)
				}
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	cancel()
	worker.Stop()
	if err := n.Stop(); err != nil {
		log.Error("Error during shutdown", "error", err)
	}

	log.Info("Goodbye!")
}

// ensureDefaultIdentity loads the first identity found in storage, or
// generates and persists a new one labeled "default" on first run.
func ensureDefaultIdentity(ctx context.Context, addresses *storage.AddressRepository, log *logging.Logger) (*object.Address, error) {
	identities, err := addresses.GetIdentities(ctx)
	if err != nil {
		return nil, err
	}
	if len(identities) > 0 {
		return identities[0], nil
	}

	identity, err := object.NewIdentity("default")
	if err != nil {
		return nil, err
	}
	if err := addresses.Store(ctx, identity); err != nil {
		return nil, err
	}
	log.Info("Generated new default identity")
	return identity, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, n *node.Node, cfg *node.Config, identity *object.Address) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  shadowmail P2P Node (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Peer ID: %s", n.ID().String())
	log.Infof("  Address: %s", identity.StringRepr)
	log.Info("")
	log.Info("  Listening on:")
	for _, addr := range n.Addrs() {
		log.Infof("    %s/p2p/%s", addr.String(), n.ID().String())
	}
	log.Info("")
	log.Infof("  Network: %s | mDNS: %v | DHT: %v", networkLabel, cfg.Network.EnableMDNS, cfg.Network.EnableDHT)
	log.Infof("  Data dir: %s", expandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}

func parseBootstrapPeers(s string) []string {
	if s == "" {
		return nil
	}
	var peers []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
