package opgraph_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/opgraph"
)

func sampleOperation() opgraph.Operation {
	return opgraph.Operation{
		ContractId: codec.ContractId{1},
		Method:     "transfer",
		Inputs: []opgraph.Input{
			{Addr: opgraph.CellAddr{Opid: codec.Opid{2}, Index: 0}, Witness: []byte("sig")},
		},
		Outputs: []opgraph.DataCell{
			{Data: []byte("amount:10"), Auth: codec.AuthToken{3}, Lock: nil},
		},
		Global: []opgraph.GlobalEntry{{Name: "ticker", Value: []byte("RGB")}},
		Reads:  []opgraph.CellAddr{{Opid: codec.Opid{4}, Index: 1}},
	}
}

func TestOperationOpidDeterministic(t *testing.T) {
	op := sampleOperation()
	a, err := op.Opid()
	require.NoError(t, err)
	b, err := op.Opid()
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestOperationRoundTrip(t *testing.T) {
	op := sampleOperation()
	enc, err := op.Encoded()
	require.NoError(t, err)

	var decoded opgraph.Operation
	require.NoError(t, decoded.DecodeRGB(codec.NewReader(bytes.NewReader(enc))))
	require.Equal(t, op, decoded)

	origOpid, err := op.Opid()
	require.NoError(t, err)
	decodedOpid, err := decoded.Opid()
	require.NoError(t, err)
	require.Equal(t, origOpid, decodedOpid)
}

func TestGenesisContractIdEqualsOpid(t *testing.T) {
	g := opgraph.Genesis{
		Operation:       opgraph.Operation{ContractId: codec.ContractId{}, Method: "genesis"},
		CodexId:         codec.CodexId{9},
		ConsensusTag:    "bitcoin-mainnet",
		Testnet:         false,
		ContractName:    "TestAsset",
		IssuerTimestamp: 1700000000,
	}
	opid, err := g.Opid()
	require.NoError(t, err)
	cid, err := g.ContractId()
	require.NoError(t, err)
	require.Equal(t, opid[:], cid[:])
}

func TestOrderKeyLess(t *testing.T) {
	low := opgraph.OrderKey{WitnessHeight: 1, Opid: codec.Opid{1}}
	high := opgraph.OrderKey{WitnessHeight: 2, Opid: codec.Opid{0}}
	require.True(t, low.Less(high))
	require.False(t, high.Less(low))

	a := opgraph.OrderKey{WitnessHeight: 5, Opid: codec.Opid{1}}
	b := opgraph.OrderKey{WitnessHeight: 5, Opid: codec.Opid{2}}
	require.True(t, a.Less(b))
}

func TestSortKeysOrdersByTuple(t *testing.T) {
	keys := []opgraph.OrderKey{
		{WitnessHeight: 2, Position: 0, Opid: codec.Opid{1}},
		{WitnessHeight: 1, Position: 5, Opid: codec.Opid{9}},
		{WitnessHeight: 1, Position: 1, Opid: codec.Opid{2}},
	}
	opgraph.SortKeys(keys)
	require.Equal(t, uint64(1), keys[0].WitnessHeight)
	require.Equal(t, uint32(1), keys[0].Position)
	require.Equal(t, uint64(1), keys[1].WitnessHeight)
	require.Equal(t, uint32(5), keys[1].Position)
	require.Equal(t, uint64(2), keys[2].WitnessHeight)
}
