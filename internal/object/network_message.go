package object

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MessageCommand is the wire discriminator for a NetworkMessage (spec §6).
type MessageCommand string

const (
	CommandReqInv  MessageCommand = "ReqInv"
	CommandInv     MessageCommand = "Inv"
	CommandGetData MessageCommand = "GetData"
	CommandObjects MessageCommand = "Objects"
)

// NetworkMessage is the single frame type exchanged over the custom
// length-prefixed CBOR stream protocol (spec §6): a gossip announcement
// (ReqInv/Inv) or a direct request/response (GetData/Objects).
type NetworkMessage struct {
	Command MessageCommand
	Payload MessagePayload
}

// MessagePayload is a union of the four command bodies. Exactly one
// field is populated, matching Command.
type MessagePayload struct {
	// Hashes carries the inventory vector for ReqInv (empty), Inv
	// (hashes the sender has), and GetData (hashes the sender wants).
	Hashes [][]byte
	// Objects carries full objects, populated only for Command ==
	// CommandObjects.
	Objects []*Object
}

// networkMessageWire is the flat CBOR map form.
type networkMessageWire struct {
	Command MessageCommand `cbor:"command"`
	Hashes  [][]byte       `cbor:"hashes,omitempty"`
	Objects []*Object      `cbor:"objects,omitempty"`
}

// NewReqInv builds a bare inventory-pull request.
func NewReqInv() *NetworkMessage {
	return &NetworkMessage{Command: CommandReqInv}
}

// NewInv announces the hashes the local node holds.
func NewInv(hashes [][]byte) *NetworkMessage {
	return &NetworkMessage{Command: CommandInv, Payload: MessagePayload{Hashes: hashes}}
}

// NewGetData requests the full objects for the given hashes.
func NewGetData(hashes [][]byte) *NetworkMessage {
	return &NetworkMessage{Command: CommandGetData, Payload: MessagePayload{Hashes: hashes}}
}

// NewObjects carries the full objects answering a GetData.
func NewObjects(objects []*Object) *NetworkMessage {
	return &NetworkMessage{Command: CommandObjects, Payload: MessagePayload{Objects: objects}}
}

// MarshalCBOR implements cbor.Marshaler.
func (m *NetworkMessage) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(networkMessageWire{
		Command: m.Command,
		Hashes:  m.Payload.Hashes,
		Objects: m.Payload.Objects,
	})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (m *NetworkMessage) UnmarshalCBOR(data []byte) error {
	var w networkMessageWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Command {
	case CommandReqInv, CommandInv, CommandGetData, CommandObjects:
	default:
		return fmt.Errorf("object: unknown network message command %q", w.Command)
	}
	m.Command = w.Command
	m.Payload = MessagePayload{Hashes: w.Hashes, Objects: w.Objects}
	return nil
}
