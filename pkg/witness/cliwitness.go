package witness

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
)

// ErrInvalidProof is returned when a CliWitness fails to recompute its
// claimed MPC tree root.
var ErrInvalidProof = errors.New("witness: client-side commitment proof does not recompute its root")

// PathStep is one step of a client-side commitment proof: the sibling
// hash at this level and which side it sits on. Adapted from the binary
// Merkle-receipt shape used for anchor batching elsewhere in this stack,
// specialized here to a single witness-tree leaf.
type PathStep struct {
	Sibling [32]byte
	Right   bool
}

func (s PathStep) encode(w *codec.Writer) error {
	if err := w.WriteBytes(s.Sibling[:]); err != nil {
		return err
	}
	return w.WriteBool(s.Right)
}

func decodePathStep(r *codec.Reader) (PathStep, error) {
	var s PathStep
	b, err := r.ReadBytes(32)
	if err != nil {
		return s, err
	}
	copy(s.Sibling[:], b)
	s.Right, err = r.ReadBool()
	return s, err
}

// CliWitness is the client-side half of a witness: a deterministic
// commitment proof binding one leaf of a multi-protocol-commitment (MPC)
// tree to the tree's root, which is in turn what the published
// transaction actually commits to on-chain (spec.md §3).
type CliWitness struct {
	// Leaf is this witness's own leaf value in the MPC tree (normally a
	// hash of the bundle of operations it closes).
	Leaf [32]byte
	// Path is the sibling path from Leaf to Root.
	Path []PathStep
	// Root is the MPC tree root the published witness transaction commits
	// to. Verify recomputes this from Leaf and Path and compares.
	Root [32]byte
}

// EncodeRGB implements codec.Encoder.
func (c CliWitness) EncodeRGB(w *codec.Writer) error {
	if err := w.WriteBytes(c.Leaf[:]); err != nil {
		return err
	}
	if err := w.WriteSmallLen(len(c.Path)); err != nil {
		return err
	}
	for _, step := range c.Path {
		if err := step.encode(w); err != nil {
			return err
		}
	}
	return w.WriteBytes(c.Root[:])
}

// DecodeRGB implements codec.Decoder.
func (c *CliWitness) DecodeRGB(r *codec.Reader) error {
	leaf, err := r.ReadBytes(32)
	if err != nil {
		return err
	}
	copy(c.Leaf[:], leaf)

	n, err := r.ReadSmallLen()
	if err != nil {
		return err
	}
	c.Path = make([]PathStep, n)
	for i := range c.Path {
		c.Path[i], err = decodePathStep(r)
		if err != nil {
			return err
		}
	}

	root, err := r.ReadBytes(32)
	if err != nil {
		return err
	}
	copy(c.Root[:], root)
	return nil
}

// Verify recomputes the root from Leaf and Path and compares it against
// Root in constant time, the same fail-closed pattern the anchor-proof
// Merkle verifier this is adapted from uses.
func (c CliWitness) Verify() error {
	cur := c.Leaf
	for _, step := range c.Path {
		var combined [64]byte
		if step.Right {
			copy(combined[:32], cur[:])
			copy(combined[32:], step.Sibling[:])
		} else {
			copy(combined[:32], step.Sibling[:])
			copy(combined[32:], cur[:])
		}
		cur = sha256.Sum256(combined[:])
	}
	if subtle.ConstantTimeCompare(cur[:], c.Root[:]) != 1 {
		return fmt.Errorf("%w: got %x want %x", ErrInvalidProof, cur, c.Root)
	}
	return nil
}
