// Package protocol defines the wire types, slot/face/layer enumerations,
// and external capability interfaces that the appearance pipeline depends
// on but does not implement itself (transport, asset storage, the image
// baker). Everything in this package is pure data and interfaces; no I/O.
package protocol

import "github.com/google/uuid"

// UUID is the domain-wide identifier type: item ids, asset ids, texture
// ids, agent and session ids are all 128-bit UUIDs on the wire.
type UUID = uuid.UUID

func mustParse(s string) UUID {
	return uuid.MustParse(s)
}

// ParseUUID parses a canonical UUID string, returning an error on malformed
// input rather than panicking (unlike mustParse, used only for the fixed
// MagicHash constants in slots.go).
func ParseUUID(s string) (UUID, error) {
	return uuid.Parse(s)
}

// XOR returns the byte-wise XOR of a and b.
func XOR(a, b UUID) UUID {
	var out UUID
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// IsZero reports whether id XOR-reduces to zero.
func IsZero(id UUID) bool {
	return id == ZeroUUID
}

// DefaultTextureID is the sentinel "use the default avatar texture" id.
// Wherever it is written into the texture table it is canonicalized to
// the zero UUID (see Canonicalize).
var DefaultTextureID = uuid.MustParse("c228d1cf-4b5d-4ba8-84f4-899a0796aa97")

// ZeroUUID is the canonical empty id.
var ZeroUUID uuid.UUID

// Canonicalize returns uuid.Nil when id is either the zero UUID or the
// DefaultTextureID sentinel, and id unchanged otherwise.
func Canonicalize(id uuid.UUID) uuid.UUID {
	if id == ZeroUUID || id == DefaultTextureID {
		return ZeroUUID
	}
	return id
}
