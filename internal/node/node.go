package node

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"

	"github.com/klingon-exchange/shadowmail/pkg/logging"
)

// InventoryTopicSuffix names the GossipSub topic inventory announcements
// (ReqInv/Inv) are published to, namespaced under the network's discovery
// namespace so mainnet and testnet never cross-pollinate.
const InventoryTopicSuffix = "/inventory"

// Node wraps a libp2p host with the DHT, GossipSub, and mDNS discovery
// the store-and-forward protocol runs over. The custom length-prefixed
// stream protocol (GetData/Objects) is registered separately by the
// worker via SetStreamHandler.
type Node struct {
	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub
	config *Config
	log    *logging.Logger

	mdnsService mdns.Service
	routingDisc *drouting.RoutingDiscovery

	invTopic *pubsub.Topic

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time

	onPeerConnected    func(peer.ID)
	onPeerDisconnected func(peer.ID)

	mu sync.RWMutex
}

// New creates the libp2p host and its discovery/gossip machinery.
func New(ctx context.Context, cfg *Config) (*Node, error) {
	ctx, cancel := context.WithCancel(ctx)

	n := &Node{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		log:    logging.GetDefault().Component("node"),
	}

	privKey, err := n.loadOrCreateKey()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load/create key: %w", err)
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.Network.ListenAddrs))
	for _, addr := range cfg.Network.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	cm, err := connmgr.NewConnManager(
		cfg.Network.ConnMgr.LowWater,
		cfg.Network.ConnMgr.HighWater,
		connmgr.WithGracePeriod(cfg.Network.ConnMgr.GracePeriod),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.ConnectionManager(cm),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	}

	if cfg.Network.EnableNAT {
		opts = append(opts, libp2p.NATPortMap())
	}
	if cfg.Network.EnableRelay {
		opts = append(opts, libp2p.EnableRelay())
	}
	if cfg.Network.EnableHolePunching {
		opts = append(opts, libp2p.EnableHolePunching())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	n.host = h

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, conn network.Conn) {
			n.mu.RLock()
			cb := n.onPeerConnected
			n.mu.RUnlock()
			if cb != nil {
				go cb(conn.RemotePeer())
			}
		},
		DisconnectedF: func(_ network.Network, conn network.Conn) {
			n.mu.RLock()
			cb := n.onPeerDisconnected
			n.mu.RUnlock()
			if cb != nil {
				go cb(conn.RemotePeer())
			}
		},
	})

	if cfg.Network.EnableDHT {
		if err := n.initDHT(ctx); err != nil {
			h.Close()
			cancel()
			return nil, fmt.Errorf("failed to initialize DHT: %w", err)
		}
	}

	if err := n.initPubSub(ctx); err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("failed to initialize pubsub: %w", err)
	}

	if cfg.Network.EnableMDNS {
		if err := n.initMDNS(); err != nil {
			n.log.Warn("mDNS initialization failed", "error", err)
		}
	}

	return n, nil
}

// loadOrCreateKey loads the node's libp2p transport identity, generating
// and persisting a new Ed25519 key on first run.
func (n *Node) loadOrCreateKey() (crypto.PrivKey, error) {
	keyPath := n.config.Identity.KeyFile
	if !filepath.IsAbs(keyPath) {
		dataDir := expandPath(n.config.Storage.DataDir)
		keyPath = filepath.Join(dataDir, keyPath)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, err
	}

	if data, err := os.ReadFile(keyPath); err == nil {
		return crypto.UnmarshalPrivateKey(data)
	}

	privKey, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}

	data, err := crypto.MarshalPrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, data, 0600); err != nil {
		return nil, err
	}

	n.log.Info("generated new node identity")
	return privKey, nil
}

func (n *Node) initDHT(ctx context.Context) error {
	var err error
	n.dht, err = dht.New(ctx, n.host,
		dht.Mode(dht.ModeAutoServer),
		dht.ProtocolPrefix(protocol.ID(n.config.DHTPrefix())),
	)
	if err != nil {
		return err
	}

	if err := n.dht.Bootstrap(ctx); err != nil {
		return err
	}

	n.routingDisc = drouting.NewRoutingDiscovery(n.dht)
	return nil
}

func (n *Node) initPubSub(ctx context.Context) error {
	var err error
	n.pubsub, err = pubsub.NewGossipSub(ctx, n.host,
		pubsub.WithPeerExchange(true),
		pubsub.WithFloodPublish(true),
	)
	if err != nil {
		return err
	}

	n.invTopic, err = n.pubsub.Join(n.config.DiscoveryNamespace() + InventoryTopicSuffix)
	return err
}

func (n *Node) initMDNS() error {
	n.mdnsService = mdns.NewMdnsService(n.host, n.config.DiscoveryNamespace(), n)
	return n.mdnsService.Start()
}

// HandlePeerFound is called when mDNS discovers a peer on the local
// network.
func (n *Node) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.host.ID() {
		return
	}

	n.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.PermanentAddrTTL)

	go func() {
		ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
		defer cancel()
		if err := n.host.Connect(ctx, pi); err != nil {
			n.log.Debug("failed to connect to mDNS peer", "peer", shortID(pi.ID), "error", err)
		}
	}()
}

// Start connects to configured bootstrap peers and begins the discovery
// loop. Callers that need the custom stream protocol handler registered
// must do so (via SetStreamHandler) before calling Start.
func (n *Node) Start() error {
	n.startTime = time.Now()

	for _, addrStr := range n.config.Network.BootstrapPeers {
		ma, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			n.log.Warn("invalid bootstrap address", "addr", addrStr, "error", err)
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			n.log.Warn("invalid bootstrap peer info", "addr", addrStr, "error", err)
			continue
		}

		go func(pi peer.AddrInfo) {
			ctx, cancel := context.WithTimeout(n.ctx, 30*time.Second)
			defer cancel()
			if err := n.host.Connect(ctx, pi); err != nil {
				n.log.Warn("failed to connect to bootstrap peer", "peer", shortID(pi.ID), "error", err)
			} else {
				n.log.Info("connected to bootstrap peer", "peer", shortID(pi.ID))
			}
		}(*pi)
	}

	if n.routingDisc != nil {
		go dutil.Advertise(n.ctx, n.routingDisc, n.config.DiscoveryNamespace())
		go n.discoverPeers()
	}

	return nil
}

// Listen binds an additional listen address at runtime, backing the
// StartListening local command (spec §4.4).
func (n *Node) Listen(addrs ...multiaddr.Multiaddr) error {
	return n.host.Network().Listen(addrs...)
}

// Connectedness reports whether a peer currently has any open
// connection, used by the worker to decide whether a disconnect event
// was the last connection to that peer.
func (n *Node) Connectedness(p peer.ID) network.Connectedness {
	return n.host.Network().Connectedness(p)
}

// SetStreamHandler registers the handler for the custom length-prefixed
// stream protocol (GetData/Objects), per spec §6.
func (n *Node) SetStreamHandler(h network.StreamHandler) {
	n.host.SetStreamHandler(protocol.ID(n.config.Wire.ProtocolID), h)
}

// InventoryTopic returns the GossipSub topic inventory announcements are
// published to and subscribed from.
func (n *Node) InventoryTopic() *pubsub.Topic {
	return n.invTopic
}

func (n *Node) discoverPeers() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			peers, err := dutil.FindPeers(n.ctx, n.routingDisc, n.config.DiscoveryNamespace())
			if err != nil {
				continue
			}
			for _, pi := range peers {
				if pi.ID == n.host.ID() || n.host.Network().Connectedness(pi.ID) == network.Connected {
					continue
				}
				go func(pi peer.AddrInfo) {
					ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
					defer cancel()
					_ = n.host.Connect(ctx, pi)
				}(pi)
			}
		}
	}
}

// Stop shuts the node down gracefully.
func (n *Node) Stop() error {
	n.cancel()

	if n.invTopic != nil {
		n.invTopic.Close()
	}
	if n.mdnsService != nil {
		n.mdnsService.Close()
	}
	if n.dht != nil {
		n.dht.Close()
	}

	return n.host.Close()
}

// ID returns the node's peer ID.
func (n *Node) ID() peer.ID { return n.host.ID() }

// Addrs returns the node's listen addresses.
func (n *Node) Addrs() []multiaddr.Multiaddr { return n.host.Addrs() }

// Host returns the underlying libp2p host.
func (n *Node) Host() host.Host { return n.host }

// DHT returns the Kademlia DHT.
func (n *Node) DHT() *dht.IpfsDHT { return n.dht }

// PubSub returns the GossipSub instance.
func (n *Node) PubSub() *pubsub.PubSub { return n.pubsub }

// Peers returns the list of connected peers.
func (n *Node) Peers() []peer.ID { return n.host.Network().Peers() }

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int { return len(n.host.Network().Peers()) }

// Connect connects to a peer.
func (n *Node) Connect(ctx context.Context, pi peer.AddrInfo) error {
	return n.host.Connect(ctx, pi)
}

// ConnectByAddr connects to a peer given as a multiaddr string.
func (n *Node) ConnectByAddr(ctx context.Context, addr string) error {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("invalid multiaddr: %w", err)
	}
	pi, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return fmt.Errorf("invalid peer addr info: %w", err)
	}
	return n.host.Connect(ctx, *pi)
}

// OnPeerConnected sets a callback invoked whenever a peer connects.
func (n *Node) OnPeerConnected(cb func(peer.ID)) {
	n.mu.Lock()
	n.onPeerConnected = cb
	n.mu.Unlock()
}

// OnPeerDisconnected sets a callback invoked whenever a peer disconnects.
func (n *Node) OnPeerDisconnected(cb func(peer.ID)) {
	n.mu.Lock()
	n.onPeerDisconnected = cb
	n.mu.Unlock()
}

// Uptime returns how long the node has been running.
func (n *Node) Uptime() time.Duration { return time.Since(n.startTime) }

// Config returns the node configuration.
func (n *Node) Config() *Config { return n.config }

// shortID returns a truncated peer ID for logging.
func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
