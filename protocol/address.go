package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// AddressLength is the size of a node address in bytes.
const AddressLength = 6

// Address is the fixed-size link-layer address of a node, formatted like a
// MAC address.
type Address [AddressLength]byte

// Broadcast is the address every node listens on. Messages sent to it are
// protected with the shared broadcast key.
var Broadcast = Address{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// ErrInvalidAddress indicates a malformed address string.
var ErrInvalidAddress = errors.New("invalid address")

// String returns the colon-separated lowercase hex form, e.g. "12:34:56:78:9a:bc".
func (a Address) String() string {
	parts := make([]string, AddressLength)
	for i, b := range a {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(parts, ":")
}

// IsBroadcast reports whether a is the broadcast address.
func (a Address) IsBroadcast() bool {
	return a == Broadcast
}

// ParseAddress parses a colon-separated hex address. Exactly six groups of
// two hex digits are accepted.
func ParseAddress(s string) (Address, error) {
	var a Address
	parts := strings.Split(s, ":")
	if len(parts) != AddressLength {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		a[i] = b[0]
	}
	return a, nil
}

// MarshalText implements encoding.TextMarshaler using the String form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler accepting the String form.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
