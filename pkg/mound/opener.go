package mound

import (
	"fmt"
	"path/filepath"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/pile"
	"github.com/RGB-WG/rgb-std-sub001/pkg/pile/fsstore"
)

// MemPileOpener opens a fresh in-memory pile.KV per contract. Used by
// tests and any caller that does not need durability across restarts.
type MemPileOpener struct{}

// Open implements PileOpener.
func (MemPileOpener) Open(codec.ContractId) (pile.KV, error) {
	return pile.NewMemKV(), nil
}

// DirPileOpener lays out one pile.fsstore directory per contract under
// Root, named `<contractId-hex>.contract` to mirror spec.md §6's
// `<name>.<contract-id>.contract/` convention (the display name prefix
// is recorded separately via Mound.Name, since only the Mound — not the
// opener — knows it at issue time).
type DirPileOpener struct {
	Root string
}

// Open implements PileOpener.
func (o DirPileOpener) Open(contractId codec.ContractId) (pile.KV, error) {
	dir := filepath.Join(o.Root, fmt.Sprintf("%s.contract", contractId))
	store, err := fsstore.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("mound: open fsstore at %s: %w", dir, err)
	}
	return store, nil
}
