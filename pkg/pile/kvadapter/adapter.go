// Package kvadapter wraps a CometBFT dbm.DB as a pile.KV, giving the pile
// a durable embedded-engine backend without writing a bespoke on-disk
// format (adapted from the teacher's pkg/kvdb.KVAdapter).
package kvadapter

import (
	dbm "github.com/cometbft/cometbft-db"

	"github.com/RGB-WG/rgb-std-sub001/pkg/pile"
)

// Adapter wraps a CometBFT dbm.DB and exposes the pile.KV interface.
type Adapter struct {
	db dbm.DB
}

// New creates an Adapter over an already-opened CometBFT DB.
func New(db dbm.DB) *Adapter {
	return &Adapter{db: db}
}

// Get implements pile.KV.
func (a *Adapter) Get(key []byte) ([]byte, error) {
	v, err := a.db.Get(key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, pile.ErrNotFound
	}
	return v, nil
}

// Set implements pile.KV. Uses SetSync so a write is durable before the
// call returns, matching the pile's fail-stop durability requirement.
func (a *Adapter) Set(key, value []byte) error {
	return a.db.SetSync(key, value)
}

// Delete implements pile.KV.
func (a *Adapter) Delete(key []byte) error {
	return a.db.DeleteSync(key)
}

// Iterator implements pile.KV.
func (a *Adapter) Iterator(start, end []byte) (pile.Iterator, error) {
	it, err := a.db.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	return &iteratorAdapter{it: it}, nil
}

type iteratorAdapter struct {
	it dbm.Iterator
}

func (i *iteratorAdapter) Valid() bool    { return i.it.Valid() }
func (i *iteratorAdapter) Next()          { i.it.Next() }
func (i *iteratorAdapter) Key() []byte    { return i.it.Key() }
func (i *iteratorAdapter) Value() []byte  { return i.it.Value() }
func (i *iteratorAdapter) Close() error   { return i.it.Close() }
