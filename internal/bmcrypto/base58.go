package bmcrypto

import "github.com/mr-tron/base58"

// EncodeBase58 is the string_repr / tag display encoding (spec §6).
func EncodeBase58(b []byte) string {
	return base58.Encode(b)
}

// DecodeBase58 reverses EncodeBase58.
func DecodeBase58(s string) ([]byte, error) {
	return base58.Decode(s)
}
