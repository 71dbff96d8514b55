package consignment

import (
	"bufio"
	"fmt"
	"io"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/opgraph"
	"github.com/RGB-WG/rgb-std-sub001/pkg/seal"
	"github.com/RGB-WG/rgb-std-sub001/pkg/witness"
)

// OperationFrame is one non-genesis entry in a consignment stream: an
// operation, the seal definitions it creates, and an optional witness
// closing it (spec.md §4.F).
type OperationFrame struct {
	Operation opgraph.Operation
	Seals     map[uint16]seal.Def
	Witness   *witness.SealWitness
}

// Consignment is a fully decoded (or not-yet-written) stream: a
// contract's Articles, the seal definitions its genesis creates, and an
// ordered run of operation frames.
type Consignment struct {
	ContractId   codec.ContractId
	Articles     opgraph.Articles
	GenesisSeals map[uint16]seal.Def
	Frames       []OperationFrame
}

func encodeSealWitness(w *codec.Writer, sw *witness.SealWitness) error {
	if err := w.WriteBool(sw != nil); err != nil {
		return err
	}
	if sw == nil {
		return nil
	}
	if err := w.WriteBytes(sw.Id[:]); err != nil {
		return err
	}
	if err := sw.Pub.EncodeRGB(w); err != nil {
		return err
	}
	return sw.Cli.EncodeRGB(w)
}

func decodeSealWitness(r *codec.Reader) (*witness.SealWitness, error) {
	has, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	var sw witness.SealWitness
	id, err := r.ReadBytes(32)
	if err != nil {
		return nil, err
	}
	copy(sw.Id[:], id)
	if err := sw.Pub.DecodeRGB(r); err != nil {
		return nil, err
	}
	if err := sw.Cli.DecodeRGB(r); err != nil {
		return nil, err
	}
	return &sw, nil
}

// WriteStream writes cons to w in the exact order spec.md §4.F defines:
// magic+version, contract id, Articles, genesis seals, the `false`
// genesis-witness marker, then every operation frame, each with its own
// seal map and optional witness.
func WriteStream(w io.Writer, cons Consignment) error {
	cw := codec.NewWriter(w)
	if err := writeStreamHeader(cw, cons.ContractId); err != nil {
		return err
	}
	if err := cons.Articles.EncodeRGB(cw); err != nil {
		return err
	}
	if err := seal.EncodeMap(cw, cons.GenesisSeals); err != nil {
		return err
	}
	if err := cw.WriteBool(false); err != nil {
		return err
	}
	for _, frame := range cons.Frames {
		if err := frame.Operation.EncodeRGB(cw); err != nil {
			return err
		}
		if err := seal.EncodeMap(cw, frame.Seals); err != nil {
			return err
		}
		if err := encodeSealWitness(cw, frame.Witness); err != nil {
			return err
		}
	}
	return cw.Err()
}

// ReadStream parses a consignment stream written by WriteStream. Unlike
// most of this codec, the stream has no frame count: EOF at a frame
// boundary ends the stream cleanly, while EOF mid-frame is a malformed
// stream (surfaced by the underlying codec as ErrUnexpectedEOF).
func ReadStream(r io.Reader) (Consignment, error) {
	br := bufio.NewReader(r)
	cr := codec.NewReader(br)

	var cons Consignment
	contractId, err := readStreamHeader(cr)
	if err != nil {
		return cons, err
	}
	cons.ContractId = contractId

	if err := cons.Articles.DecodeRGB(cr); err != nil {
		return cons, fmt.Errorf("consignment: decode articles: %w", err)
	}
	genesisSeals, err := seal.DecodeMap(cr)
	if err != nil {
		return cons, fmt.Errorf("consignment: decode genesis seals: %w", err)
	}
	cons.GenesisSeals = genesisSeals

	genesisWitnessed, err := cr.ReadBool()
	if err != nil {
		return cons, fmt.Errorf("consignment: decode genesis witness marker: %w", err)
	}
	if genesisWitnessed {
		return cons, ErrWitnessAsserted
	}

	for {
		if _, err := br.Peek(1); err != nil {
			if err == io.EOF {
				break
			}
			return cons, fmt.Errorf("consignment: peek next frame: %w", err)
		}

		var frame OperationFrame
		if err := frame.Operation.DecodeRGB(cr); err != nil {
			return cons, fmt.Errorf("consignment: decode operation frame: %w", err)
		}
		frameSeals, err := seal.DecodeMap(cr)
		if err != nil {
			return cons, fmt.Errorf("consignment: decode frame seals: %w", err)
		}
		frame.Seals = frameSeals
		sw, err := decodeSealWitness(cr)
		if err != nil {
			return cons, fmt.Errorf("consignment: decode frame witness: %w", err)
		}
		frame.Witness = sw
		cons.Frames = append(cons.Frames, frame)
	}
	return cons, nil
}
