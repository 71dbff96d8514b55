package codec_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	require.NoError(t, w.WriteU8(0x7a))
	require.NoError(t, w.WriteU16(1234))
	require.NoError(t, w.WriteU24(1<<20+5))
	require.NoError(t, w.WriteU32(0xDEADBEEF))
	require.NoError(t, w.WriteU64(0x0102030405060708))
	require.NoError(t, w.WriteBool(true))
	require.NoError(t, w.WriteBool(false))
	require.NoError(t, w.WriteTinyBytes([]byte("hi")))
	require.NoError(t, w.WriteSmallBytes(bytes.Repeat([]byte{1}, 300)))
	require.NoError(t, w.WriteString("rgb"))
	require.NoError(t, w.Err())

	r := codec.NewReader(&buf)
	u8, err := r.ReadU8()
	require.NoError(t, err)
	require.EqualValues(t, 0x7a, u8)

	u16, err := r.ReadU16()
	require.NoError(t, err)
	require.EqualValues(t, 1234, u16)

	u24, err := r.ReadU24()
	require.NoError(t, err)
	require.EqualValues(t, 1<<20+5, u24)

	u32, err := r.ReadU32()
	require.NoError(t, err)
	require.EqualValues(t, 0xDEADBEEF, u32)

	u64, err := r.ReadU64()
	require.NoError(t, err)
	require.EqualValues(t, 0x0102030405060708, u64)

	b1, err := r.ReadBool()
	require.NoError(t, err)
	require.True(t, b1)

	b2, err := r.ReadBool()
	require.NoError(t, err)
	require.False(t, b2)

	tiny, err := r.ReadTinyBytes()
	require.NoError(t, err)
	require.Equal(t, "hi", string(tiny))

	small, err := r.ReadSmallBytes()
	require.NoError(t, err)
	require.Len(t, small, 300)

	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "rgb", s)
}

func TestReaderUnexpectedEOF(t *testing.T) {
	r := codec.NewReader(bytes.NewReader([]byte{0x01}))
	_, err := r.ReadU32()
	require.ErrorIs(t, err, codec.ErrUnexpectedEOF)
}

func TestWriterBoundsEnforced(t *testing.T) {
	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	err := w.WriteTinyBytes(bytes.Repeat([]byte{0}, 256))
	require.ErrorIs(t, err, codec.ErrMalformed)
}

func TestTaggedHashDeterministic(t *testing.T) {
	a := codec.TaggedHash(codec.TagOpid, []byte("payload"))
	b := codec.TaggedHash(codec.TagOpid, []byte("payload"))
	require.Equal(t, a, b)

	c := codec.TaggedHash(codec.TagContractId, []byte("payload"))
	require.NotEqual(t, a, c, "different domain tags must diverge")
}

func TestAuthTokenTruncation(t *testing.T) {
	tok := codec.NewAuthToken([]byte("seal definition bytes"))
	require.Len(t, tok[:], codec.AuthTokenLen)
	require.False(t, tok.IsZero())
}
