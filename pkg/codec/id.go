package codec

import (
	"crypto/sha256"
	"encoding/hex"
)

// TaggedHash derives a 32-byte content identifier by concatenating a
// domain tag (an ASCII URN distinguishing the id's namespace from every
// other hashed value in the system) with the canonical encoding of the
// referent, then hashing the result. Grounded on the uniform domain-tagged
// SHA-256 hashing used throughout pkg/commitment and pkg/merkle of the
// teacher repository.
func TaggedHash(domainTag string, encoded []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domainTag))
	h.Write(encoded)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Domain tags for each identifier namespace (spec.md §3).
const (
	TagContractId = "urn:rgb:contract-id#2025"
	TagCodexId    = "urn:rgb:codex-id#2025"
	TagOpid       = "urn:rgb:opid#2025"
	TagAuthToken  = "urn:rgb:auth-token#2025"
	TagState      = "urn:rgb:state-commitment#2025"
)

// Opid identifies a single operation by the hash of its canonical encoding.
type Opid [32]byte

func (id Opid) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id is the zero value (never a valid opid, used as
// a sentinel for "no parent"/"not found").
func (id Opid) IsZero() bool { return id == Opid{} }

// ContractId identifies a contract; it equals the opid of its genesis.
type ContractId [32]byte

func (id ContractId) String() string { return hex.EncodeToString(id[:]) }

// CodexId identifies a schema/codex.
type CodexId [32]byte

func (id CodexId) String() string { return hex.EncodeToString(id[:]) }

// WitnessId is the underlying layer-1 transaction identifier. It is opaque
// to the core: 32 bytes with no particular byte-order convention imposed.
type WitnessId [32]byte

func (id WitnessId) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id is the zero value.
func (id WitnessId) IsZero() bool { return id == WitnessId{} }

// AuthTokenLen is the truncation length of an AuthToken: a full 32-byte
// tagged hash truncated to its leading 30 bytes. The exact truncation
// length is unconstrained by spec.md; 30 bytes keeps a wide security
// margin while visibly marking the value as "not a full content hash".
const AuthTokenLen = 30

// AuthToken is the short, public hash of a seal definition (spec.md §3,
// §4.C). It is the only public face of a seal until the seal is spent.
type AuthToken [AuthTokenLen]byte

func (t AuthToken) String() string { return hex.EncodeToString(t[:]) }

// IsZero reports whether t is the zero value.
func (t AuthToken) IsZero() bool { return t == AuthToken{} }

// NewAuthToken truncates a tagged hash of the seal definition's canonical
// encoding into an AuthToken.
func NewAuthToken(encoded []byte) AuthToken {
	full := TaggedHash(TagAuthToken, encoded)
	var tok AuthToken
	copy(tok[:], full[:AuthTokenLen])
	return tok
}
