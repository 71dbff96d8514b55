// Package consignment implements the streamed consignment codec of
// spec.md §4.F: the wire layout producers/consumers exchange to convey a
// subset of a contract's operation graph sufficient to transfer specific
// terminal cells, plus the extraction and merge-reveal consume
// algorithms built on top of it. Grounded on the teacher's
// pkg/database/proof_artifact_types.go explicit-field encode/decode
// style, reusing pkg/codec's streaming Writer/Reader throughout.
package consignment

import (
	"errors"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
)

// ErrWitnessAsserted is returned by ReadStream when the genesis-witness
// marker is anything other than false; a genesis operation can never
// have a closing witness (spec.md §4.F).
var ErrWitnessAsserted = errors.New("consignment: genesis frame asserts a witness")

// ErrBadMagic is returned when a stream does not start with the
// consignment codec's magic bytes.
var ErrBadMagic = errors.New("consignment: bad stream magic")

// ErrUnsupportedVersion is returned when a stream's codec version byte
// is not one this package knows how to decode.
var ErrUnsupportedVersion = errors.New("consignment: unsupported codec version")

// ErrUnresolvableSeals is returned by Merge when the seal resolver
// leaves one or more terminal auth-tokens unresolved (spec.md §7).
var ErrUnresolvableSeals = errors.New("consignment: unresolvable seals")

// ErrUnknownContract is the UnknownReference case of spec.md §7: the
// consignment's contract id does not match the target contract it is
// being consumed into.
var ErrUnknownContract = errors.New("consignment: contract id mismatch")

// streamMagic is the 3-byte magic opening every consignment stream,
// followed by a 1-byte codec version.
var streamMagic = [3]byte{'R', 'G', 'B'}

const streamVersion = 1

func writeStreamHeader(w *codec.Writer, contractId codec.ContractId) error {
	if err := w.WriteBytes(streamMagic[:]); err != nil {
		return err
	}
	if err := w.WriteU8(streamVersion); err != nil {
		return err
	}
	return w.WriteBytes(contractId[:])
}

func readStreamHeader(r *codec.Reader) (codec.ContractId, error) {
	magic, err := r.ReadBytes(3)
	if err != nil {
		return codec.ContractId{}, err
	}
	if magic[0] != streamMagic[0] || magic[1] != streamMagic[1] || magic[2] != streamMagic[2] {
		return codec.ContractId{}, ErrBadMagic
	}
	version, err := r.ReadU8()
	if err != nil {
		return codec.ContractId{}, err
	}
	if version != streamVersion {
		return codec.ContractId{}, ErrUnsupportedVersion
	}
	var contractId codec.ContractId
	b, err := r.ReadBytes(32)
	if err != nil {
		return codec.ContractId{}, err
	}
	copy(contractId[:], b)
	return contractId, nil
}
