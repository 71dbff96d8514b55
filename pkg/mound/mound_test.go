package mound_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/mound"
	"github.com/RGB-WG/rgb-std-sub001/pkg/opgraph"
	"github.com/RGB-WG/rgb-std-sub001/pkg/seal"
)

func testMound(t *testing.T) (*mound.Mound, codec.CodexId) {
	t.Helper()
	m := mound.New("bitcoin", false, mound.MemPileOpener{})
	codexId := codec.CodexId{1, 2, 3}
	m.RegisterSchema(codexId, mound.Schema{Bytes: []byte("schema"), Codex: []byte("codex")})
	return m, codexId
}

func TestIssueInstallsContract(t *testing.T) {
	m, codexId := testMound(t)

	id, err := m.Issue(mound.IssueParams{
		CodexId:         codexId,
		ContractName:    "TestAsset",
		ConsensusTag:    "bitcoin",
		IssuerTimestamp: 1700000000,
		GenesisOutputs:  []opgraph.DataCell{{Data: []byte("1000")}},
	})
	require.NoError(t, err)
	require.True(t, m.HasContract(id))

	st, err := m.Contract(id).State()
	require.NoError(t, err)
	require.Len(t, st.Owned["issue"], 1)
}

func TestIssueUnknownCodex(t *testing.T) {
	m := mound.New("bitcoin", false, mound.MemPileOpener{})
	_, err := m.Issue(mound.IssueParams{CodexId: codec.CodexId{9}, ConsensusTag: "bitcoin"})
	require.ErrorIs(t, err, mound.ErrUnknownCodex)
}

func TestIssueConsensusMismatch(t *testing.T) {
	m, codexId := testMound(t)
	_, err := m.Issue(mound.IssueParams{CodexId: codexId, ConsensusTag: "liquid"})
	require.ErrorIs(t, err, mound.ErrConsensusMismatch)
}

func TestContractPanicsWhenAbsent(t *testing.T) {
	m, _ := testMound(t)
	require.Panics(t, func() { m.Contract(codec.ContractId{1}) })
}

func TestConsignConsumeRoundTripIntoFreshMound(t *testing.T) {
	source, codexId := testMound(t)
	id, err := source.Issue(mound.IssueParams{
		CodexId:         codexId,
		ContractName:    "TestAsset",
		ConsensusTag:    "bitcoin",
		IssuerTimestamp: 1700000000,
		GenesisOutputs:  []opgraph.DataCell{{Data: []byte("1000")}},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, source.Consign(id, nil, &buf))

	target, _ := testMound(t)
	target.RegisterSchema(codexId, mound.Schema{Bytes: []byte("schema"), Codex: []byte("codex")})

	gotId, err := target.Consume(&buf, seal.MapResolver{})
	require.NoError(t, err)
	require.Equal(t, id, gotId)
	require.True(t, target.HasContract(id))
}

type recordingObserver struct {
	consigns        int
	consumeOutcomes []string
	contractsHeld   []int
	unresolvedSeals int
}

func (r *recordingObserver) RecordConsign() { r.consigns++ }
func (r *recordingObserver) RecordConsume(outcome string) {
	r.consumeOutcomes = append(r.consumeOutcomes, outcome)
}
func (r *recordingObserver) RecordUnresolvedTerminalSeals(n int) { r.unresolvedSeals += n }
func (r *recordingObserver) SetContractsHeld(n int)              { r.contractsHeld = append(r.contractsHeld, n) }

func TestObserverSeesIssueConsignConsume(t *testing.T) {
	obs := &recordingObserver{}
	codexId := codec.CodexId{1, 2, 3}
	source := mound.New("bitcoin", false, mound.MemPileOpener{}, mound.WithObserver(obs))
	source.RegisterSchema(codexId, mound.Schema{Bytes: []byte("schema"), Codex: []byte("codex")})

	id, err := source.Issue(mound.IssueParams{
		CodexId:         codexId,
		ContractName:    "TestAsset",
		ConsensusTag:    "bitcoin",
		IssuerTimestamp: 1700000000,
		GenesisOutputs:  []opgraph.DataCell{{Data: []byte("1000")}},
	})
	require.NoError(t, err)
	require.Equal(t, []int{1}, obs.contractsHeld)

	var buf bytes.Buffer
	require.NoError(t, source.Consign(id, nil, &buf))
	require.Equal(t, 1, obs.consigns)

	target := mound.New("bitcoin", false, mound.MemPileOpener{}, mound.WithObserver(obs))
	target.RegisterSchema(codexId, mound.Schema{Bytes: []byte("schema"), Codex: []byte("codex")})
	_, err = target.Consume(&buf, seal.MapResolver{})
	require.NoError(t, err)
	require.Equal(t, []string{"ok"}, obs.consumeOutcomes)
}

func TestMaxGenerationAcrossContracts(t *testing.T) {
	m, codexId := testMound(t)
	id, err := m.Issue(mound.IssueParams{
		CodexId:         codexId,
		ContractName:    "TestAsset",
		ConsensusTag:    "bitcoin",
		IssuerTimestamp: 1700000000,
		GenesisOutputs:  []opgraph.DataCell{{Data: []byte("1000")}},
	})
	require.NoError(t, err)

	gen, err := m.MaxGeneration()
	require.NoError(t, err)
	require.Equal(t, uint64(0), gen)

	require.NoError(t, m.Contract(id).CommitTransaction())
	gen, err = m.MaxGeneration()
	require.NoError(t, err)
	require.Equal(t, uint64(1), gen)
}

func TestConsumeSameConsignmentTwiceIsIdempotent(t *testing.T) {
	source, codexId := testMound(t)
	id, err := source.Issue(mound.IssueParams{
		CodexId:         codexId,
		ContractName:    "TestAsset",
		ConsensusTag:    "bitcoin",
		IssuerTimestamp: 1700000000,
		GenesisOutputs:  []opgraph.DataCell{{Data: []byte("1000")}},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, source.Consign(id, nil, &buf))
	raw := buf.Bytes()

	target, _ := testMound(t)
	target.RegisterSchema(codexId, mound.Schema{Bytes: []byte("schema"), Codex: []byte("codex")})

	_, err = target.Consume(bytes.NewReader(raw), seal.MapResolver{})
	require.NoError(t, err)
	firstState, err := target.Contract(id).State()
	require.NoError(t, err)
	firstGen, err := target.Contract(id).Generation()
	require.NoError(t, err)

	_, err = target.Consume(bytes.NewReader(raw), seal.MapResolver{})
	require.NoError(t, err)
	secondState, err := target.Contract(id).State()
	require.NoError(t, err)
	secondGen, err := target.Contract(id).Generation()
	require.NoError(t, err)

	require.Equal(t, firstState, secondState, "re-consuming the same consignment must not change the projection")
	require.Equal(t, firstGen, secondGen, "re-consuming the same consignment must not advance the generation counter")
}

func TestConsumeUnknownContractAndCodex(t *testing.T) {
	source, codexId := testMound(t)
	id, err := source.Issue(mound.IssueParams{
		CodexId:         codexId,
		ContractName:    "TestAsset",
		ConsensusTag:    "bitcoin",
		IssuerTimestamp: 1700000000,
		GenesisOutputs:  []opgraph.DataCell{{Data: []byte("1000")}},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, source.Consign(id, nil, &buf))

	target := mound.New("bitcoin", false, mound.MemPileOpener{})
	_, err = target.Consume(&buf, seal.MapResolver{})
	require.ErrorIs(t, err, mound.ErrUnknownContract)
}
