package node

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/klingon-exchange/shadowmail/internal/object"
	"github.com/klingon-exchange/shadowmail/pkg/logging"
)

// Client is the command-sending facade local callers (RPC surface, CLI,
// tests) use to drive the node: every method builds a command, sends it
// on the worker's command channel, and blocks for the reply. Client
// holds no repository or transport reference of its own — the worker is
// the only thing that ever touches those — so there is no back-pointer
// cycle between the two (spec §4.5, §9).
type Client struct {
	cmds chan<- command
	log  *logging.Logger
}

// NewClient builds a command facade bound to a worker's command channel.
func NewClient(cmds chan<- command, log *logging.Logger) *Client {
	return &Client{cmds: cmds, log: log.Component("client")}
}

func (c *Client) send(ctx context.Context, kind commandKind, args any) (any, error) {
	reply := make(chan commandResult, 1)
	select {
	case c.cmds <- command{kind: kind, args: args, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StartListening binds an additional listen address at runtime (spec
// §4.4).
func (c *Client) StartListening(ctx context.Context, addr string) error {
	_, err := c.send(ctx, cmdStartListening, addr)
	return err
}

// Dial connects to a peer given as a multiaddr string. Reserved per
// spec §4.4: accepted and attempted, with no further local-command
// surface built on top of it yet.
func (c *Client) Dial(ctx context.Context, addr string) error {
	_, err := c.send(ctx, cmdDial, addr)
	return err
}

// GetListenerAddress returns the node's first bound listen address,
// blocking until one is available if none is bound yet.
func (c *Client) GetListenerAddress(ctx context.Context) (multiaddr.Multiaddr, error) {
	v, err := c.send(ctx, cmdGetListenerAddress, nil)
	if err != nil {
		return nil, err
	}
	return v.(multiaddr.Multiaddr), nil
}

// GetPeerID returns the node's own peer ID.
func (c *Client) GetPeerID(ctx context.Context) (peer.ID, error) {
	v, err := c.send(ctx, cmdGetPeerID, nil)
	if err != nil {
		return "", err
	}
	return v.(peer.ID), nil
}

// BroadcastMsgByPubSub publishes a raw NetworkMessage on the inventory
// gossip topic (spec §4.4). Reserved for protocol-level tooling; normal
// inventory announcements are driven by the worker itself.
func (c *Client) BroadcastMsgByPubSub(ctx context.Context, msg *object.NetworkMessage) error {
	_, err := c.send(ctx, cmdBroadcastMsgByPubSub, msg)
	return err
}

// GetOwnIdentities returns every local identity.
func (c *Client) GetOwnIdentities(ctx context.Context) ([]*object.Address, error) {
	v, err := c.send(ctx, cmdGetOwnIdentities, nil)
	if err != nil {
		return nil, err
	}
	return v.([]*object.Address), nil
}

// GenerateIdentity creates a new local identity with the given label
// and returns its string_repr.
func (c *Client) GenerateIdentity(ctx context.Context, label string) (string, error) {
	v, err := c.send(ctx, cmdGenerateIdentity, label)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// RenameIdentity updates the label of an existing local address.
func (c *Client) RenameIdentity(ctx context.Context, address, label string) error {
	_, err := c.send(ctx, cmdRenameIdentity, renameIdentityArgs{address: address, label: label})
	return err
}

// DeleteIdentity removes a local identity or contact.
func (c *Client) DeleteIdentity(ctx context.Context, address string) error {
	_, err := c.send(ctx, cmdDeleteIdentity, address)
	return err
}

// GetMessages returns every message in the inbox or sent folder for the
// given local address.
func (c *Client) GetMessages(ctx context.Context, address string, f folder) ([]*object.Message, error) {
	v, err := c.send(ctx, cmdGetMessages, getMessagesArgs{address: address, folder: f})
	if err != nil {
		return nil, err
	}
	return v.([]*object.Message), nil
}

// SendMessage composes a message to recipientStringRepr from identity.
// If the recipient's public keys are not yet known, it instead requests
// them with a Getpubkey object and records the message as waiting, to be
// resumed once the Pubkey reply arrives (spec §4.4).
func (c *Client) SendMessage(ctx context.Context, identity *object.Address, recipientStringRepr, subject string, body []byte) (*object.Message, error) {
	v, err := c.send(ctx, cmdSendMessage, sendMessageArgs{
		identity:  identity,
		recipient: recipientStringRepr,
		subject:   subject,
		body:      body,
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return v.(*object.Message), nil
}
