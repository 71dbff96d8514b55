package pgindex

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/witness"
)

// Like the teacher's pkg/database tests, these exercise a real Postgres
// instance named by an env var and are skipped entirely when it is
// unset rather than faking the driver.
func testIndex(t *testing.T) *Index {
	t.Helper()
	dsn := os.Getenv("RGB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RGB_TEST_POSTGRES_DSN not set, skipping pgindex integration test")
	}
	idx, err := Open(dsn)
	require.NoError(t, err)
	require.NoError(t, idx.Migrate(context.Background()))
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestRecordWitnessUpsertsStatus(t *testing.T) {
	idx := testIndex(t)
	ctx := context.Background()

	contractId := codec.ContractId{1}
	wid := codec.WitnessId{2}

	require.NoError(t, idx.RecordWitness(ctx, contractId, wid, witness.Status{Kind: witness.Tentative, Height: 0}))
	require.NoError(t, idx.RecordWitness(ctx, contractId, wid, witness.Status{Kind: witness.Mined, Height: 100}))

	mined, err := idx.WitnessesByStatus(ctx, contractId, witness.Mined)
	require.NoError(t, err)
	require.Contains(t, mined, wid.String())

	tentative, err := idx.WitnessesByStatus(ctx, contractId, witness.Tentative)
	require.NoError(t, err)
	require.NotContains(t, tentative, wid.String(), "the upsert must replace the prior status, not accumulate rows")
}

func TestWitnessObserverAdapterMirrorsRecordWitnessStatus(t *testing.T) {
	idx := testIndex(t)
	ctx := context.Background()

	var mirrorErr error
	adapter := WitnessObserverAdapter{
		Index:   idx,
		Timeout: time.Second,
		OnError: func(err error) { mirrorErr = err },
	}

	contractId := codec.ContractId{3}
	wid := codec.WitnessId{4}
	adapter.RecordWitnessStatus(contractId, wid, witness.Status{Kind: witness.Buried, Height: 500})
	require.NoError(t, mirrorErr)

	buried, err := idx.WitnessesByStatus(ctx, contractId, witness.Buried)
	require.NoError(t, err)
	require.Contains(t, buried, wid.String())
}
