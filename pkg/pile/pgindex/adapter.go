package pgindex

import (
	"context"
	"time"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/witness"
)

// WitnessObserverAdapter satisfies pkg/contract.WitnessObserver by
// mirroring every witness status change into a backing Index, so a
// rgbnode deployment can get SQL-queryable witness history for free by
// passing one of these alongside its pkg/metrics.Metrics observer. A nil
// Logger silently drops mirror failures; callers that care should embed
// this in a type that also logs.
type WitnessObserverAdapter struct {
	Index   *Index
	Timeout time.Duration

	// OnError is called with any mirror failure instead of panicking or
	// blocking the caller; RecordWitnessStatus is best-effort since the
	// pile's own KV is the durable source of truth (spec.md §4.D).
	OnError func(error)
}

// RecordWitnessStatus implements pkg/contract.WitnessObserver.
func (a WitnessObserverAdapter) RecordWitnessStatus(contractId codec.ContractId, wid codec.WitnessId, status witness.Status) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.Index.RecordWitness(ctx, contractId, wid, status); err != nil && a.OnError != nil {
		a.OnError(err)
	}
}
