package vm_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RGB-WG/rgb-std-sub001/pkg/opgraph"
	"github.com/RGB-WG/rgb-std-sub001/pkg/vm"
)

func TestAlwaysValidAcceptsEverything(t *testing.T) {
	var v vm.AlwaysValid
	require.NoError(t, v.ValidateGenesis(nil, nil, opgraph.Genesis{}))
	require.NoError(t, v.ValidateOperation(nil, nil, opgraph.Operation{}))
}

func TestAcceptErrorUnwraps(t *testing.T) {
	inner := errors.New("bad signature")
	err := &vm.AcceptError{Method: "transfer", Err: inner}
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "transfer")
}
