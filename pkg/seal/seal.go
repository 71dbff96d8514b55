// Package seal implements single-use seal definitions and their
// deterministic auth-token derivation (spec.md §3, §4.C).
package seal

import (
	"errors"
	"fmt"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
)

// Kind distinguishes the two seal-definition forms spec.md §3 describes.
type Kind uint8

const (
	// KindNoFallback is used when the receiver already owns the outpoint
	// that will close the seal: derived deterministically from
	// (outpoint, noise_seed, nonce).
	KindNoFallback Kind = 0
	// KindVoutNoFallback is used before the witness txid is known:
	// derived from (vout, noise_seed, nonce), resolved to a full outpoint
	// once the funding transaction is identified.
	KindVoutNoFallback Kind = 1
)

// ErrAlreadyResolved is returned by Resolve when called on a seal that
// already carries a concrete outpoint.
var ErrAlreadyResolved = errors.New("seal: already resolved to an outpoint")

// Outpoint identifies a transaction output on the underlying layer-1.
// Txid is opaque 32 bytes to the core, matching WitnessId's treatment.
type Outpoint struct {
	Txid codec.WitnessId
	Vout uint32
}

func (o Outpoint) encode(w *codec.Writer) error {
	if err := w.WriteBytes(o.Txid[:]); err != nil {
		return err
	}
	return w.WriteU32(o.Vout)
}

func decodeOutpoint(r *codec.Reader) (Outpoint, error) {
	var o Outpoint
	b, err := r.ReadBytes(32)
	if err != nil {
		return o, err
	}
	copy(o.Txid[:], b)
	o.Vout, err = r.ReadU32()
	return o, err
}

// Def is a seal definition binding an output position to an eventual
// on-chain outpoint (spec.md §3).
type Def struct {
	Kind Kind

	// Set for KindNoFallback, or for a KindVoutNoFallback seal once
	// resolved via Resolve.
	Outpoint *Outpoint

	// Set for KindVoutNoFallback before resolution: the output index
	// within the still-unidentified funding transaction.
	Vout uint32

	NoiseSeed [32]byte
	Nonce     uint64
}

// NewNoFallback builds a seal definition directly bound to a known
// outpoint.
func NewNoFallback(outpoint Outpoint, noiseSeed [32]byte, nonce uint64) Def {
	op := outpoint
	return Def{Kind: KindNoFallback, Outpoint: &op, NoiseSeed: noiseSeed, Nonce: nonce}
}

// NewVoutNoFallback builds a seal definition for an output whose funding
// transaction is not yet known.
func NewVoutNoFallback(vout uint32, noiseSeed [32]byte, nonce uint64) Def {
	return Def{Kind: KindVoutNoFallback, Vout: vout, NoiseSeed: noiseSeed, Nonce: nonce}
}

// EncodeRGB implements codec.Encoder.
func (d Def) EncodeRGB(w *codec.Writer) error {
	if err := w.WriteU8(uint8(d.Kind)); err != nil {
		return err
	}
	switch d.Kind {
	case KindNoFallback:
		if d.Outpoint == nil {
			return fmt.Errorf("seal: KindNoFallback requires an outpoint")
		}
		if err := d.Outpoint.encode(w); err != nil {
			return err
		}
	case KindVoutNoFallback:
		if d.Outpoint != nil {
			// Resolved vout-seal: still encodes by outpoint so the
			// wire form always reflects the seal's current knowledge.
			if err := d.Outpoint.encode(w); err != nil {
				return err
			}
		} else {
			if err := w.WriteU32(d.Vout); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown seal kind %d", codec.ErrMalformed, d.Kind)
	}
	if err := w.WriteBytes(d.NoiseSeed[:]); err != nil {
		return err
	}
	return w.WriteU64(d.Nonce)
}

// DecodeRGB implements codec.Decoder. Vout-based seals decode back into an
// unresolved Def with Outpoint == nil whenever the wire bytes encode a bare
// vout; callers round-tripping a resolved seal should track resolution out
// of band (the wire format for an unresolved vs. resolved vout-seal is
// distinguished by the presence of a full outpoint instead of a bare u32,
// which this decoder cannot tell apart without a length hint — so
// vout-seals are always re-decoded as encoded: resolved ones come back
// resolved, because resolution rewrites Kind to KindNoFallback via
// Resolve).
func (d *Def) DecodeRGB(r *codec.Reader) error {
	kindByte, err := r.ReadU8()
	if err != nil {
		return err
	}
	d.Kind = Kind(kindByte)
	switch d.Kind {
	case KindNoFallback:
		op, err := decodeOutpoint(r)
		if err != nil {
			return err
		}
		d.Outpoint = &op
	case KindVoutNoFallback:
		v, err := r.ReadU32()
		if err != nil {
			return err
		}
		d.Vout = v
		d.Outpoint = nil
	default:
		return fmt.Errorf("%w: unknown seal kind %d", codec.ErrMalformed, d.Kind)
	}
	seed, err := r.ReadBytes(32)
	if err != nil {
		return err
	}
	copy(d.NoiseSeed[:], seed)
	d.Nonce, err = r.ReadU64()
	return err
}

// Encoded returns the canonical encoding of the seal definition.
func (d Def) Encoded() ([]byte, error) {
	return codec.Encode(d.EncodeRGB)
}

// AuthToken derives the deterministic, public auth token for this seal:
// the truncated hash of its canonical encoding (spec.md §3).
func (d Def) AuthToken() (codec.AuthToken, error) {
	enc, err := d.Encoded()
	if err != nil {
		return codec.AuthToken{}, err
	}
	return codec.NewAuthToken(enc), nil
}

// Resolve binds a KindVoutNoFallback seal to the funding outpoint once the
// witness transaction identifying it is known. The auth token is
// unaffected only if the caller re-derives it from the pre-resolution Def;
// resolution is a local bookkeeping step, never re-broadcast.
func (d Def) Resolve(txid codec.WitnessId) (Def, error) {
	if d.Kind != KindVoutNoFallback {
		return Def{}, ErrAlreadyResolved
	}
	resolved := d
	resolved.Kind = KindNoFallback
	resolved.Outpoint = &Outpoint{Txid: txid, Vout: d.Vout}
	return resolved, nil
}

// Resolver looks up seal definitions whose auth tokens match a set of
// terminal tokens, used when consuming a consignment addressed to this
// party's wallet (spec.md §4.C, §6). Missing entries imply "not mine".
type Resolver interface {
	Resolve(tokens []codec.AuthToken) (map[codec.AuthToken]Def, error)
}

// MapResolver is a trivial Resolver backed by a static map, used by tests
// and by any caller that has already derived its own seals out of band.
type MapResolver map[codec.AuthToken]Def

// Resolve implements Resolver.
func (m MapResolver) Resolve(tokens []codec.AuthToken) (map[codec.AuthToken]Def, error) {
	out := make(map[codec.AuthToken]Def, len(tokens))
	for _, t := range tokens {
		if d, ok := m[t]; ok {
			out[t] = d
		}
	}
	return out, nil
}
