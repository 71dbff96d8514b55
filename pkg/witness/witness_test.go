package witness_test

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/witness"
)

func TestStatusLatticeOrder(t *testing.T) {
	require.True(t, witness.ArchivedStatus.Less(witness.OffchainStatus))
	require.True(t, witness.OffchainStatus.Less(witness.TentativeStatus(100)))
	require.True(t, witness.TentativeStatus(100).Less(witness.MinedStatus(50)))
	require.True(t, witness.MinedStatus(50).Less(witness.BuriedStatus(1)))
	require.True(t, witness.TentativeStatus(1).Less(witness.TentativeStatus(2)))
}

func TestStatusAtOrAbove(t *testing.T) {
	require.True(t, witness.BuriedStatus(10).AtOrAbove(witness.Mined))
	require.False(t, witness.TentativeStatus(10).AtOrAbove(witness.Mined))
}

func TestWitnessRoundTrip(t *testing.T) {
	w := witness.Witness{
		Id:        codec.WitnessId{1},
		Published: witness.PubWitness{RawTx: []byte("raw-tx-bytes")},
		Client: witness.CliWitness{
			Leaf: sha256.Sum256([]byte("leaf")),
			Root: sha256.Sum256([]byte("leaf")),
		},
		Status: witness.MinedStatus(42),
		Opids:  []codec.Opid{{2}, {3}},
	}
	enc, err := codec.Encode(w.EncodeRGB)
	require.NoError(t, err)

	var decoded witness.Witness
	require.NoError(t, decoded.DecodeRGB(codec.NewReader(bytes.NewReader(enc))))
	require.Equal(t, w, decoded)
}

func TestCliWitnessVerify(t *testing.T) {
	leaf := sha256.Sum256([]byte("leaf-a"))
	sibling := sha256.Sum256([]byte("leaf-b"))
	var combined [64]byte
	copy(combined[:32], leaf[:])
	copy(combined[32:], sibling[:])
	root := sha256.Sum256(combined[:])

	cw := witness.CliWitness{
		Leaf: leaf,
		Path: []witness.PathStep{{Sibling: sibling, Right: true}},
		Root: root,
	}
	require.NoError(t, cw.Verify())

	cw.Root[0] ^= 0xff
	require.ErrorIs(t, cw.Verify(), witness.ErrInvalidProof)
}
