package seal_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/seal"
)

func TestNoFallbackAuthTokenDeterministic(t *testing.T) {
	outpoint := seal.Outpoint{Txid: codec.WitnessId{1, 2, 3}, Vout: 7}
	d := seal.NewNoFallback(outpoint, [32]byte{9}, 42)

	a, err := d.AuthToken()
	require.NoError(t, err)
	b, err := d.AuthToken()
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.False(t, a.IsZero())
}

func TestVoutSealResolve(t *testing.T) {
	d := seal.NewVoutNoFallback(3, [32]byte{1}, 1)
	require.Nil(t, d.Outpoint)

	resolved, err := d.Resolve(codec.WitnessId{0xaa})
	require.NoError(t, err)
	require.Equal(t, seal.KindNoFallback, resolved.Kind)
	require.NotNil(t, resolved.Outpoint)
	require.EqualValues(t, 3, resolved.Outpoint.Vout)

	_, err = resolved.Resolve(codec.WitnessId{0xbb})
	require.ErrorIs(t, err, seal.ErrAlreadyResolved)
}

func TestSealRoundTrip(t *testing.T) {
	d := seal.NewNoFallback(seal.Outpoint{Txid: codec.WitnessId{4}, Vout: 1}, [32]byte{5}, 99)
	enc, err := d.Encoded()
	require.NoError(t, err)

	var decoded seal.Def
	require.NoError(t, decoded.DecodeRGB(codec.NewReader(bytes.NewReader(enc))))
	require.Equal(t, d.Kind, decoded.Kind)
	require.Equal(t, *d.Outpoint, *decoded.Outpoint)
	require.Equal(t, d.NoiseSeed, decoded.NoiseSeed)
	require.Equal(t, d.Nonce, decoded.Nonce)
}

func TestMapResolverMissingIsNotMine(t *testing.T) {
	d := seal.NewNoFallback(seal.Outpoint{Txid: codec.WitnessId{1}, Vout: 0}, [32]byte{2}, 1)
	tok, err := d.AuthToken()
	require.NoError(t, err)

	resolver := seal.MapResolver{tok: d}
	unknown := codec.NewAuthToken([]byte("other"))

	resolved, err := resolver.Resolve([]codec.AuthToken{tok, unknown})
	require.NoError(t, err)
	require.Contains(t, resolved, tok)
	require.NotContains(t, resolved, unknown)
}
