package contract_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/contract"
	"github.com/RGB-WG/rgb-std-sub001/pkg/opgraph"
	"github.com/RGB-WG/rgb-std-sub001/pkg/seal"
)

// TestMergeOperationConvergesOnOneOpidAcrossRevealOrder exercises spec.md
// §8 Scenario 5: a confidential-seal/revealed-state delivery followed by
// a revealed-seal/confidential-state delivery of the same logical
// operation must merge into one fully-revealed record filed under a
// single opid, because Opid hashes each output's Commitment rather than
// its Data.
func TestMergeOperationConvergesOnOneOpidAcrossRevealOrder(t *testing.T) {
	target := newTestContract(t)
	contractId, err := target.ContractId()
	require.NoError(t, err)
	genesisOpid, err := target.Articles().Genesis.Opid()
	require.NoError(t, err)

	auth := codec.NewAuthToken([]byte("op-output-seal"))
	revealedCell := opgraph.NewDataCell([]byte("500"), auth)
	confidentialCell := revealedCell
	confidentialCell.Data = nil

	baseOp := opgraph.Operation{
		ContractId: contractId,
		Method:     "transfer",
		Inputs:     []opgraph.Input{{Addr: opgraph.CellAddr{Opid: genesisOpid, Index: 0}}},
	}
	revealedStateOp := baseOp
	revealedStateOp.Outputs = []opgraph.DataCell{revealedCell}
	confidentialStateOp := baseOp
	confidentialStateOp.Outputs = []opgraph.DataCell{confidentialCell}

	opidFromRevealed, err := revealedStateOp.Opid()
	require.NoError(t, err)
	opidFromConfidential, err := confidentialStateOp.Opid()
	require.NoError(t, err)
	require.Equal(t, opidFromRevealed, opidFromConfidential,
		"an operation's opid must not depend on whether its output state is revealed")

	// First delivery: confidential-seal (no seal filed yet), revealed state.
	merged, err := target.MergeOperation(opidFromRevealed, revealedStateOp)
	require.NoError(t, err)
	require.Equal(t, []byte("500"), merged.Outputs[0].Data)

	// Second delivery: revealed-seal, confidential state.
	sealDef := seal.NewNoFallback(seal.Outpoint{Txid: codec.WitnessId{42}, Vout: 0}, [32]byte{9}, 1)
	require.NoError(t, target.AddSeals(opidFromRevealed, map[uint16]seal.Def{0: sealDef}))

	merged, err = target.MergeOperation(opidFromConfidential, confidentialStateOp)
	require.NoError(t, err)
	require.Equal(t, []byte("500"), merged.Outputs[0].Data, "state revealed by the first delivery must survive the merge")

	stored, ok := target.Operation(opidFromRevealed)
	require.True(t, ok)
	require.Equal(t, []byte("500"), stored.Outputs[0].Data)

	finalOpid, err := stored.Opid()
	require.NoError(t, err)
	require.Equal(t, opidFromRevealed, finalOpid, "the merged record's own opid must still match the key it is filed under")
}

// TestMergeOperationRejectsCommitmentMismatch guards the precondition
// MergeOperation checks before trusting a same-opid delivery: two
// outputs claiming the same index under the same opid must carry the
// same state commitment.
func TestMergeOperationRejectsCommitmentMismatch(t *testing.T) {
	target := newTestContract(t)
	contractId, err := target.ContractId()
	require.NoError(t, err)
	genesisOpid, err := target.Articles().Genesis.Opid()
	require.NoError(t, err)

	auth := codec.NewAuthToken([]byte("mismatch-seal"))
	first := opgraph.Operation{
		ContractId: contractId,
		Method:     "transfer",
		Inputs:     []opgraph.Input{{Addr: opgraph.CellAddr{Opid: genesisOpid, Index: 0}}},
		Outputs:    []opgraph.DataCell{opgraph.NewDataCell([]byte("500"), auth)},
	}
	opid, err := first.Opid()
	require.NoError(t, err)

	_, err = target.MergeOperation(opid, first)
	require.NoError(t, err)

	tampered := first
	tampered.Outputs = []opgraph.DataCell{opgraph.NewDataCell([]byte("500"), auth)}
	tampered.Outputs[0].Commitment[0] ^= 0xff

	_, err = target.MergeOperation(opid, tampered)
	require.ErrorIs(t, err, contract.ErrCommitmentMismatch)
}
