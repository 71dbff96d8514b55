// Package vm defines the boundary between the contract runtime and the
// external schema/validity-predicate engine. Concrete type systems and
// bytecode interpreters are out of scope for this repository (spec.md
// §1, §6); this package only names the interface the runtime calls
// through, plus a minimal in-memory fake useful for tests and examples.
package vm

import (
	"github.com/RGB-WG/rgb-std-sub001/pkg/opgraph"
)

// Validator checks a proposed operation against a contract's schema,
// codex bytecode, and current state projection. The core never
// interprets Schema or Codex bytes itself; it only ever calls through
// this interface (spec.md §1).
type Validator interface {
	// ValidateGenesis checks a genesis operation against its own schema
	// and codex at issuance time.
	ValidateGenesis(schema, codex []byte, genesis opgraph.Genesis) error
	// ValidateOperation checks a non-genesis operation against the
	// schema, codex, and the prior state it reads and consumes.
	ValidateOperation(schema, codex []byte, op opgraph.Operation) error
}

// AcceptError wraps a Validator rejection. The contract runtime never
// mutates the pile when a call returns AcceptError (spec.md §4.E).
type AcceptError struct {
	Method string
	Err    error
}

func (e *AcceptError) Error() string {
	return "vm: operation " + e.Method + " rejected: " + e.Err.Error()
}

func (e *AcceptError) Unwrap() error { return e.Err }

// AlwaysValid is a trivial Validator that accepts every operation. It
// exists for tests and examples that need a Contract but have no real
// schema/codex engine wired in; production callers supply their own
// Validator implementation.
type AlwaysValid struct{}

// ValidateGenesis implements Validator.
func (AlwaysValid) ValidateGenesis(schema, codex []byte, genesis opgraph.Genesis) error {
	return nil
}

// ValidateOperation implements Validator.
func (AlwaysValid) ValidateOperation(schema, codex []byte, op opgraph.Operation) error {
	return nil
}
