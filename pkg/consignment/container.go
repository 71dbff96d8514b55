package consignment

import (
	"bytes"
	"fmt"
	"io"
)

// ContentKind distinguishes the three consignment file contents spec.md
// §6 names: a contract transfer, a kit (schema/codex bundle), or a
// transfer (operation-only, no genesis state).
type ContentKind [3]byte

var (
	KindContractTransfer = ContentKind{'C', 'O', 'N'}
	KindKit              = ContentKind{'K', 'I', 'T'}
	KindTransfer         = ContentKind{'T', 'F', 'R'}
)

func (k ContentKind) String() string { return string(k[:]) }

var containerMagic = [3]byte{'R', 'G', 'B'}

// WriteContainer writes spec.md §6's file container: the 3-byte `RGB`
// magic, a 3-byte content-kind tag, then the strict-encoded body
// verbatim.
func WriteContainer(w io.Writer, kind ContentKind, body []byte) error {
	if _, err := w.Write(containerMagic[:]); err != nil {
		return err
	}
	if _, err := w.Write(kind[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadContainer parses a container written by WriteContainer.
func ReadContainer(r io.Reader) (ContentKind, []byte, error) {
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return ContentKind{}, nil, fmt.Errorf("consignment: read container header: %w", err)
	}
	if hdr[0] != containerMagic[0] || hdr[1] != containerMagic[1] || hdr[2] != containerMagic[2] {
		return ContentKind{}, nil, ErrBadMagic
	}
	var kind ContentKind
	copy(kind[:], hdr[3:6])
	body, err := io.ReadAll(r)
	if err != nil {
		return kind, nil, fmt.Errorf("consignment: read container body: %w", err)
	}
	return kind, body, nil
}

// WriteConsignmentContainer wraps a consignment stream in a file
// container of the given kind.
func WriteConsignmentContainer(w io.Writer, kind ContentKind, cons Consignment) error {
	var buf bytes.Buffer
	if err := WriteStream(&buf, cons); err != nil {
		return fmt.Errorf("consignment: encode container body: %w", err)
	}
	return WriteContainer(w, kind, buf.Bytes())
}

// ReadConsignmentContainer unwraps a file container whose body is a
// consignment stream.
func ReadConsignmentContainer(r io.Reader) (ContentKind, Consignment, error) {
	kind, body, err := ReadContainer(r)
	if err != nil {
		return kind, Consignment{}, err
	}
	cons, err := ReadStream(bytes.NewReader(body))
	if err != nil {
		return kind, Consignment{}, fmt.Errorf("consignment: decode container body: %w", err)
	}
	return kind, cons, nil
}
