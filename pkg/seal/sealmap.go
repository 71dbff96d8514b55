package seal

import (
	"bytes"
	"sort"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
)

// EncodeMap writes a SmallOrdMap<u16, SealDef> (spec.md §4.D, §4.F): a
// u16 entry count followed by (index, medium-length-prefixed seal
// encoding) pairs in ascending index order. Both the pile's keep map and
// consignment operation frames use this exact shape, so callers on both
// sides decode identical bytes.
func EncodeMap(w *codec.Writer, m map[uint16]Def) error {
	keys := sortedIndices(m)
	if err := w.WriteSmallLen(len(keys)); err != nil {
		return err
	}
	for _, k := range keys {
		if err := w.WriteU16(k); err != nil {
			return err
		}
		encoded, err := m[k].Encoded()
		if err != nil {
			return err
		}
		if err := w.WriteMediumBytes(encoded); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMap reads a SmallOrdMap<u16, SealDef> written by EncodeMap.
func DecodeMap(r *codec.Reader) (map[uint16]Def, error) {
	n, err := r.ReadSmallLen()
	if err != nil {
		return nil, err
	}
	out := make(map[uint16]Def, n)
	for i := 0; i < n; i++ {
		idx, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		raw, err := r.ReadMediumBytes()
		if err != nil {
			return nil, err
		}
		var def Def
		if err := def.DecodeRGB(codec.NewReader(bytes.NewReader(raw))); err != nil {
			return nil, err
		}
		out[idx] = def
	}
	return out, nil
}

func sortedIndices(m map[uint16]Def) []uint16 {
	keys := make([]uint16, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
