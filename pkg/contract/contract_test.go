package contract_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/contract"
	"github.com/RGB-WG/rgb-std-sub001/pkg/opgraph"
	"github.com/RGB-WG/rgb-std-sub001/pkg/pile"
	"github.com/RGB-WG/rgb-std-sub001/pkg/seal"
	"github.com/RGB-WG/rgb-std-sub001/pkg/vm"
	"github.com/RGB-WG/rgb-std-sub001/pkg/witness"
)

func testArticles(t *testing.T) opgraph.Articles {
	t.Helper()
	genesis := opgraph.Genesis{
		Operation: opgraph.Operation{
			Method:  "issue",
			Outputs: []opgraph.DataCell{{Data: []byte("1000")}},
			Global:  []opgraph.GlobalEntry{{Name: "name", Value: []byte("TestAsset")}},
		},
		ConsensusTag:    "bitcoin",
		ContractName:    "TestAsset",
		IssuerTimestamp: 1700000000,
	}
	return opgraph.Articles{Genesis: genesis, Schema: []byte("schema"), Codex: []byte("codex")}
}

func newTestContract(t *testing.T) *contract.Contract {
	t.Helper()
	c, err := contract.New(testArticles(t), pile.New(pile.NewMemKV()))
	require.NoError(t, err)
	return c
}

func TestGenesisAlwaysInState(t *testing.T) {
	c := newTestContract(t)
	st, err := c.State()
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("TestAsset")}, st.Immutable["name"])
	require.Len(t, st.Owned["issue"], 1)
}

func TestCallRejectedByValidatorMutatesNothing(t *testing.T) {
	rejectAll := rejectValidator{err: errors.New("bad witness")}
	c, err := contract.New(testArticles(t), pile.New(pile.NewMemKV()), contract.WithValidator(rejectAll))
	require.NoError(t, err)

	_, err = c.Call(contract.CallParams{Method: "transfer"}, nil)
	var acceptErr *vm.AcceptError
	require.ErrorAs(t, err, &acceptErr)

	ops, err := c.Operations()
	require.NoError(t, err)
	require.Len(t, ops, 1, "only genesis should be present after a rejected call")
}

func TestOperationRequiresConfirmedWitnessToAppearInState(t *testing.T) {
	c := newTestContract(t)

	op, err := c.Call(contract.CallParams{Method: "transfer", Outputs: []opgraph.DataCell{{Data: []byte("500")}}}, nil)
	require.NoError(t, err)
	opid, err := op.Opid()
	require.NoError(t, err)

	st, err := c.State()
	require.NoError(t, err)
	require.Len(t, st.Owned["transfer"], 0, "unwitnessed operation must not be folded into state")

	wid := codec.WitnessId{7}
	require.NoError(t, c.ApplyWitness(opid, contract.SealWitness{Id: wid, Pub: witness.PubWitness{RawTx: []byte("tx")}}))

	st, err = c.State()
	require.NoError(t, err)
	require.Len(t, st.Owned["transfer"], 0, "Archived witness is below the default Mined threshold")

	require.NoError(t, c.UpdateWitnessStatus(wid, witness.MinedStatus(10)))
	require.NoError(t, c.CommitTransaction())

	st, err = c.State()
	require.NoError(t, err)
	require.Len(t, st.Owned["transfer"], 1)
}

func TestRollbackThenForwardIsIdentity(t *testing.T) {
	c := newTestContract(t)

	op, err := c.Call(contract.CallParams{Method: "transfer", Outputs: []opgraph.DataCell{{Data: []byte("500")}}}, nil)
	require.NoError(t, err)
	opid, err := op.Opid()
	require.NoError(t, err)

	wid := codec.WitnessId{8}
	require.NoError(t, c.ApplyWitness(opid, contract.SealWitness{Id: wid, Pub: witness.PubWitness{RawTx: []byte("tx")}}))
	require.NoError(t, c.UpdateWitnessStatus(wid, witness.BuriedStatus(100)))
	require.NoError(t, c.CommitTransaction())

	before, err := c.State()
	require.NoError(t, err)

	require.NoError(t, c.Rollback([]codec.Opid{opid}))
	mid, err := c.State()
	require.NoError(t, err)
	require.Len(t, mid.Owned["transfer"], 0)

	require.NoError(t, c.Forward([]codec.Opid{opid}))
	after, err := c.State()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestRollbackClosureDetachesDependents(t *testing.T) {
	c := newTestContract(t)

	op1, err := c.Call(contract.CallParams{Method: "transfer", Outputs: []opgraph.DataCell{{Data: []byte("a")}}}, nil)
	require.NoError(t, err)
	opid1, err := op1.Opid()
	require.NoError(t, err)

	op2, err := c.Call(contract.CallParams{
		Method: "transfer",
		Inputs: []opgraph.CellAddr{{Opid: opid1, Index: 0}},
		Outputs: []opgraph.DataCell{{Data: []byte("b")}},
	}, nil)
	require.NoError(t, err)
	opid2, err := op2.Opid()
	require.NoError(t, err)

	for _, pair := range []struct {
		opid codec.Opid
		wid  codec.WitnessId
	}{{opid1, codec.WitnessId{1}}, {opid2, codec.WitnessId{2}}} {
		require.NoError(t, c.ApplyWitness(pair.opid, contract.SealWitness{Id: pair.wid, Pub: witness.PubWitness{RawTx: []byte("tx")}}))
		require.NoError(t, c.UpdateWitnessStatus(pair.wid, witness.BuriedStatus(10)))
	}
	require.NoError(t, c.CommitTransaction())

	st, err := c.State()
	require.NoError(t, err)
	require.Len(t, st.Owned["transfer"], 1, "op2 spends op1's only output, so only op2's output is live")

	require.NoError(t, c.Rollback([]codec.Opid{opid1}))
	st, err = c.State()
	require.NoError(t, err)
	require.Len(t, st.Owned["transfer"], 0, "rolling back op1 must also detach op2, which consumes op1's output")
}

func TestReorgToArchiveThenBackMatchesOriginalProjection(t *testing.T) {
	c := newTestContract(t)

	op, err := c.Call(contract.CallParams{Method: "transfer", Outputs: []opgraph.DataCell{{Data: []byte("500")}}}, nil)
	require.NoError(t, err)
	opid, err := op.Opid()
	require.NoError(t, err)

	wid := codec.WitnessId{11}
	require.NoError(t, c.ApplyWitness(opid, contract.SealWitness{Id: wid, Pub: witness.PubWitness{RawTx: []byte("tx")}}))
	require.NoError(t, c.UpdateWitnessStatus(wid, witness.BuriedStatus(100)))
	require.NoError(t, c.CommitTransaction())

	buried, err := c.State()
	require.NoError(t, err)
	require.Len(t, buried.Owned["transfer"], 1, "a buried witness must contribute to state")

	require.NoError(t, c.UpdateWitnessStatus(wid, witness.ArchivedStatus))
	require.NoError(t, c.CommitTransaction())

	archived, err := c.State()
	require.NoError(t, err)
	require.Len(t, archived.Owned["transfer"], 0, "an archived witness must no longer contribute to state")

	require.NoError(t, c.UpdateWitnessStatus(wid, witness.MinedStatus(100)))
	require.NoError(t, c.CommitTransaction())

	restored, err := c.State()
	require.NoError(t, err)
	require.Equal(t, buried, restored, "restoring the original status must reproduce the original projection")
}

func TestCallRejectsDoubleSpend(t *testing.T) {
	c := newTestContract(t)

	op1, err := c.Call(contract.CallParams{Method: "transfer", Outputs: []opgraph.DataCell{{Data: []byte("a")}}}, nil)
	require.NoError(t, err)
	opid1, err := op1.Opid()
	require.NoError(t, err)

	_, err = c.Call(contract.CallParams{
		Method:  "transfer",
		Inputs:  []opgraph.CellAddr{{Opid: opid1, Index: 0}},
		Outputs: []opgraph.DataCell{{Data: []byte("b")}},
	}, nil)
	require.NoError(t, err)

	before, err := c.Operations()
	require.NoError(t, err)

	_, err = c.Call(contract.CallParams{
		Method:  "transfer",
		Inputs:  []opgraph.CellAddr{{Opid: opid1, Index: 0}},
		Outputs: []opgraph.DataCell{{Data: []byte("c")}},
	}, nil)
	require.ErrorIs(t, err, contract.ErrStateConflict)

	after, err := c.Operations()
	require.NoError(t, err)
	require.Equal(t, before, after, "a rejected double-spend must not mutate the operation graph")
}

func TestApplyWitnessUnknownOperation(t *testing.T) {
	c := newTestContract(t)
	err := c.ApplyWitness(codec.Opid{99}, contract.SealWitness{Id: codec.WitnessId{1}})
	require.ErrorIs(t, err, contract.ErrUnknownOperation)
}

func TestApplyWitnessRejectsInvalidClientProof(t *testing.T) {
	c := newTestContract(t)

	op, err := c.Call(contract.CallParams{Method: "transfer", Outputs: []opgraph.DataCell{{Data: []byte("500")}}}, nil)
	require.NoError(t, err)
	opid, err := op.Opid()
	require.NoError(t, err)

	bad := witness.CliWitness{Leaf: [32]byte{1}, Root: [32]byte{2}}
	err = c.ApplyWitness(opid, contract.SealWitness{Id: codec.WitnessId{5}, Cli: bad})
	require.ErrorIs(t, err, witness.ErrInvalidProof)

	require.NoError(t, c.UpdateWitnessStatus(codec.WitnessId{5}, witness.MinedStatus(10)))
	require.NoError(t, c.CommitTransaction())
	st, err := c.State()
	require.NoError(t, err)
	require.Len(t, st.Owned["transfer"], 0, "a witness that failed proof verification must never bind its operation into state")
}

func TestApplyWitnessResolvesVoutNoFallbackSeals(t *testing.T) {
	c := newTestContract(t)

	voutSeal := seal.NewVoutNoFallback(2, [32]byte{7}, 1)
	op, err := c.Call(contract.CallParams{Method: "transfer", Outputs: []opgraph.DataCell{{Data: []byte("500")}}},
		map[uint16]seal.Def{0: voutSeal})
	require.NoError(t, err)
	opid, err := op.Opid()
	require.NoError(t, err)

	seals, err := c.OpSeals(opid)
	require.NoError(t, err)
	require.Nil(t, seals[0].Outpoint, "vout-no-fallback seal must start unresolved")

	wid := codec.WitnessId{42}
	require.NoError(t, c.ApplyWitness(opid, contract.SealWitness{Id: wid, Pub: witness.PubWitness{RawTx: []byte("tx")}}))

	seals, err = c.OpSeals(opid)
	require.NoError(t, err)
	require.Equal(t, seal.KindNoFallback, seals[0].Kind, "applying the witness must promote the seal once its txid is known")
	require.NotNil(t, seals[0].Outpoint)
	require.Equal(t, wid, seals[0].Outpoint.Txid)
	require.Equal(t, uint32(2), seals[0].Outpoint.Vout)
}

type rejectValidator struct{ err error }

func (r rejectValidator) ValidateGenesis(schema, codex []byte, genesis opgraph.Genesis) error {
	return nil
}

func (r rejectValidator) ValidateOperation(schema, codex []byte, op opgraph.Operation) error {
	return r.err
}

type recordingObserver struct {
	methods []string
}

func (r *recordingObserver) RecordOperation(method string) {
	r.methods = append(r.methods, method)
}

func TestObserverSeesAcceptedCallsOnly(t *testing.T) {
	obs := &recordingObserver{}
	c, err := contract.New(testArticles(t), pile.New(pile.NewMemKV()),
		contract.WithValidator(rejectValidator{err: errors.New("nope")}),
		contract.WithObserver(obs))
	require.NoError(t, err)

	_, err = c.Call(contract.CallParams{Method: "transfer"}, nil)
	require.Error(t, err)
	require.Empty(t, obs.methods, "a rejected call must not be recorded")
}

func TestObserverRecordsAcceptedCalls(t *testing.T) {
	obs := &recordingObserver{}
	c, err := contract.New(testArticles(t), pile.New(pile.NewMemKV()), contract.WithObserver(obs))
	require.NoError(t, err)

	_, err = c.Call(contract.CallParams{Method: "transfer", Outputs: []opgraph.DataCell{{Data: []byte("500")}}}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"transfer"}, obs.methods)
}
