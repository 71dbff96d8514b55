// Package witness implements the seal-witness binding: the published and
// client-side halves of an on-chain commitment, the reorg-aware status
// lattice, and the external chain-oracle contract (spec.md §3, §4.D, §6).
package witness

import (
	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
)

// PubWitness is the published half of a witness: a verbatim copy of the
// on-chain transaction (or equivalent layer-1 commitment carrier). The
// core treats RawTx as opaque; it is supplied by the external wallet/PSBT
// collaborator (spec.md §1, §6).
type PubWitness struct {
	RawTx []byte
}

// EncodeRGB implements codec.Encoder.
func (p PubWitness) EncodeRGB(w *codec.Writer) error {
	return w.WriteLargeBytes(p.RawTx)
}

// DecodeRGB implements codec.Decoder.
func (p *PubWitness) DecodeRGB(r *codec.Reader) error {
	raw, err := r.ReadLargeBytes()
	if err != nil {
		return err
	}
	p.RawTx = raw
	return nil
}

// Witness binds the on-chain layer (PubWitness), the client-side
// commitment proof (CliWitness), a reorg-aware status, and the set of
// operations it closes (spec.md §3).
type Witness struct {
	Id        codec.WitnessId
	Published PubWitness
	Client    CliWitness
	Status    Status
	Opids     []codec.Opid
}

// EncodeRGB implements codec.Encoder.
func (w Witness) EncodeRGB(wr *codec.Writer) error {
	if err := wr.WriteBytes(w.Id[:]); err != nil {
		return err
	}
	if err := w.Published.EncodeRGB(wr); err != nil {
		return err
	}
	if err := w.Client.EncodeRGB(wr); err != nil {
		return err
	}
	if err := wr.WriteU8(uint8(w.Status.Kind)); err != nil {
		return err
	}
	if err := wr.WriteU64(w.Status.Height); err != nil {
		return err
	}
	if err := wr.WriteSmallLen(len(w.Opids)); err != nil {
		return err
	}
	for _, opid := range w.Opids {
		if err := wr.WriteBytes(opid[:]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeRGB implements codec.Decoder.
func (w *Witness) DecodeRGB(r *codec.Reader) error {
	id, err := r.ReadBytes(32)
	if err != nil {
		return err
	}
	copy(w.Id[:], id)
	if err := w.Published.DecodeRGB(r); err != nil {
		return err
	}
	if err := w.Client.DecodeRGB(r); err != nil {
		return err
	}
	kind, err := r.ReadU8()
	if err != nil {
		return err
	}
	height, err := r.ReadU64()
	if err != nil {
		return err
	}
	w.Status = Status{Kind: StatusKind(kind), Height: height}
	n, err := r.ReadSmallLen()
	if err != nil {
		return err
	}
	w.Opids = make([]codec.Opid, n)
	for i := range w.Opids {
		b, err := r.ReadBytes(32)
		if err != nil {
			return err
		}
		copy(w.Opids[i][:], b)
	}
	return nil
}

// SealWitness binds an operation's closing witness for the purposes of
// the contract runtime and the consignment codec: the published and
// client-side halves plus the witness id they are filed under (spec.md
// §4.E, §4.F).
type SealWitness struct {
	Id  codec.WitnessId
	Pub PubWitness
	Cli CliWitness
}

// Update is a single status change the ChainOracle reports for a witness.
type Update struct {
	WitnessId codec.WitnessId
	Status    Status
}

// ChainOracle is the external collaborator producing witness status
// updates as the underlying chain advances or reorgs (spec.md §6). The
// runtime feeds each update into the pile's update_witness_status and
// later commits the generation.
type ChainOracle interface {
	Poll() ([]Update, error)
}
