package object

// MessageStatus tracks a locally-composed message through the send
// pipeline (spec §3/§4.4).
type MessageStatus uint8

const (
	// StatusWaitingForPubkey is set when the recipient's public keys are
	// not yet known locally and a Getpubkey round trip is in flight.
	StatusWaitingForPubkey MessageStatus = iota
	// StatusWaitingForPOW is set once the recipient's keys are known and
	// the Msg object has been built but proof of work has not finished.
	StatusWaitingForPOW
	// StatusSent is set once proof of work for the Msg object has
	// completed; the node then republishes its inventory Inv.
	StatusSent
	// StatusReceived marks an inbound message successfully decrypted and
	// (where applicable) signature-verified.
	StatusReceived
	// StatusUnknown covers a message whose disposition could not be
	// determined, e.g. one loaded from storage with an unrecognized
	// status code.
	StatusUnknown
)

func (s MessageStatus) String() string {
	switch s {
	case StatusWaitingForPubkey:
		return "waiting_for_pubkey"
	case StatusWaitingForPOW:
		return "waiting_for_pow"
	case StatusSent:
		return "sent"
	case StatusReceived:
		return "received"
	default:
		return "unknown"
	}
}

// ParseMessageStatus reverses MessageStatus.String, used when loading a
// persisted status column.
func ParseMessageStatus(s string) MessageStatus {
	switch s {
	case "waiting_for_pubkey":
		return StatusWaitingForPubkey
	case "waiting_for_pow":
		return StatusWaitingForPOW
	case "sent":
		return StatusSent
	case "received":
		return StatusReceived
	default:
		return StatusUnknown
	}
}

// UnencryptedMsg is the plaintext payload carried inside a Msg object's
// ECIES envelope: the sender's identity (so the recipient can reply and
// verify the signature) plus the message body.
type UnencryptedMsg struct {
	SenderSigningKey    []byte `cbor:"sender_signing_key"`
	SenderEncryptionKey []byte `cbor:"sender_encryption_key"`
	Subject             string `cbor:"subject"`
	Body                []byte `cbor:"body"`
}

// UnencryptedPubkey is the plaintext payload carried inside a Pubkey
// object's ECIES envelope.
type UnencryptedPubkey struct {
	SigningKey    []byte `cbor:"signing_key"`
	EncryptionKey []byte `cbor:"encryption_key"`
}

// Message is a locally-known message, either composed for sending or
// received and decrypted, as tracked by the messages repository.
type Message struct {
	Hash      []byte
	Sender    string // string_repr of the sending address, set for outbound and inbound messages alike
	Recipient string // string_repr
	Subject   string
	Body      []byte
	Status    MessageStatus
	Ack       bool // true once verified/accepted, distinguishing idempotent re-saves
}
