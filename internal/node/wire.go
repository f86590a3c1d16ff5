package node

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/klingon-exchange/shadowmail/internal/object"
)

// ErrFrameTooLarge is returned when a peer's length prefix claims a body
// larger than the configured maximum.
type ErrFrameTooLarge struct {
	Declared uint32
	Max      uint32
}

func (e ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("node: frame of %d bytes exceeds maximum of %d bytes", e.Declared, e.Max)
}

// readLengthPrefixed reads a single 4-byte-big-endian-length-prefixed
// frame from r, rejecting anything beyond maxBytes.
func readLengthPrefixed(r io.Reader, maxBytes uint32) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxBytes {
		return nil, ErrFrameTooLarge{Declared: length, Max: maxBytes}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// writeLengthPrefixed writes a single 4-byte-big-endian-length-prefixed
// frame to w.
func writeLengthPrefixed(w io.Writer, body []byte) error {
	if len(body) > int(^uint32(0)) {
		return fmt.Errorf("node: frame body of %d bytes overflows a uint32 length prefix", len(body))
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadMessage reads and CBOR-decodes a single NetworkMessage frame from r.
func ReadMessage(r io.Reader, maxFrameBytes uint32) (*object.NetworkMessage, error) {
	body, err := readLengthPrefixed(r, maxFrameBytes)
	if err != nil {
		return nil, err
	}

	var msg object.NetworkMessage
	if err := cbor.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("node: decoding network message: %w", err)
	}
	return &msg, nil
}

// WriteMessage CBOR-encodes msg and writes it to w as a single
// length-prefixed frame.
func WriteMessage(w io.Writer, msg *object.NetworkMessage) error {
	body, err := cbor.Marshal(msg)
	if err != nil {
		return fmt.Errorf("node: encoding network message: %w", err)
	}
	return writeLengthPrefixed(w, body)
}
