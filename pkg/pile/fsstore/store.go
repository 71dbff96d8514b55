// Package fsstore implements the filesystem pile variant of spec.md §6:
// one directory per contract holding six files (hoard, cache, keep,
// index.dat, stand.dat, mine.dat), each opening with an 8-byte magic and
// a 1-byte version, and a single-writer guarantee enforced by an advisory
// file lock. Grounded on original_source/src/pile/fs.rs's file naming and
// magic constants, adapted from Rust's append-only AoraMap/AoraIndex
// pattern into a Go append-log-plus-in-memory-index.
package fsstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"

	"github.com/RGB-WG/rgb-std-sub001/pkg/pile"
)

// ErrAlreadyOpen is returned by Open when another process already holds
// the pile's write lock (spec.md §5: "concurrent open for writing ⇒
// AlreadyExists").
var ErrAlreadyOpen = errors.New("fsstore: pile directory already open for writing")

const fileVersion = 1

var fileSpecs = []struct {
	name  string
	magic string
}{
	{"hoard", "RGBHOARD"},
	{"cache", "RGBCACHE"},
	{"keep", "RGBKEEPS"},
	{"index.dat", "RGBINDEX"},
	{"stand.dat", "RGBSTAND"},
	{"mine.dat", "RGBMINES"},
}

// Prefixes routed into mine.dat alongside the committed status map: the
// uncommitted-pending shadow, the per-generation history trail, and the
// generation counter itself. These match the byte values pkg/pile uses
// internally for the same namespaces.
const (
	prefixHoard   = 'H'
	prefixCache   = 'C'
	prefixKeep    = 'K'
	prefixIndex   = 'I'
	prefixStand   = 'S'
	prefixMine    = 'M'
	prefixPending = 'P'
	prefixHistory = 'T'
)

// fileMap is one append-only, magic-headed file with an in-memory index
// rebuilt by replay on open.
type fileMap struct {
	mu     sync.Mutex
	f      *os.File
	values map[string][]byte
	keys   []string // sorted, mirrors pile.MemKV's iterator support
}

func openFileMap(dir, name, magic string) (*fileMap, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fsstore: open %s: %w", name, err)
	}

	fm := &fileMap{f: f, values: make(map[string][]byte)}
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		header := append([]byte(magic), byte(fileVersion))
		if _, err := f.Write(header); err != nil {
			return nil, fmt.Errorf("fsstore: write header for %s: %w", name, err)
		}
	} else {
		if err := fm.replay(magic); err != nil {
			return nil, fmt.Errorf("fsstore: replay %s: %w", name, err)
		}
	}
	return fm, nil
}

func (fm *fileMap) replay(wantMagic string) error {
	if _, err := fm.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	header := make([]byte, len(wantMagic)+1)
	if _, err := io.ReadFull(fm.f, header); err != nil {
		return fmt.Errorf("truncated header: %w", err)
	}
	if string(header[:len(wantMagic)]) != wantMagic {
		return fmt.Errorf("bad magic: got %q want %q", header[:len(wantMagic)], wantMagic)
	}

	for {
		var lens [8]byte
		if _, err := io.ReadFull(fm.f, lens[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("truncated record header: %w", err)
		}
		klen := binary.BigEndian.Uint32(lens[0:4])
		vlen := binary.BigEndian.Uint32(lens[4:8])
		rec := make([]byte, klen+vlen)
		if _, err := io.ReadFull(fm.f, rec); err != nil {
			return fmt.Errorf("truncated record body: %w", err)
		}
		k := string(rec[:klen])
		v := rec[klen:]
		fm.applyInMemory(k, v)
	}
	return nil
}

// applyInMemory updates the in-memory index from one replayed record. A
// key starting with tombstonePrefix encodes a delete of the key that
// follows it (see delete()).
func (fm *fileMap) applyInMemory(k string, v []byte) {
	if len(k) > 0 && k[0] == tombstonePrefix {
		realKey := k[1:]
		if _, ok := fm.values[realKey]; ok {
			delete(fm.values, realKey)
			fm.removeSorted(realKey)
		}
		return
	}
	if _, exists := fm.values[k]; !exists {
		fm.insertSorted(k)
	}
	fm.values[k] = v
}

const tombstonePrefix = 0x00

func (fm *fileMap) get(key []byte) ([]byte, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	v, ok := fm.values[string(key)]
	if !ok {
		return nil, pile.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (fm *fileMap) set(key, value []byte) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if err := fm.appendRecord(key, value); err != nil {
		return err
	}
	k := string(key)
	if _, exists := fm.values[k]; !exists {
		fm.insertSorted(k)
	}
	fm.values[k] = append([]byte(nil), value...)
	return nil
}

func (fm *fileMap) delete(key []byte) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if _, exists := fm.values[string(key)]; !exists {
		return nil
	}
	// Record a tombstone: the real key prefixed by a 0x00 byte, stored
	// with an empty value, so replay can distinguish it from a genuine
	// empty-value write (the pile never writes a key starting with 0x00,
	// since every logical prefix byte is a printable ASCII letter).
	tomb := append([]byte{tombstonePrefix}, key...)
	if err := fm.appendRecord(tomb, nil); err != nil {
		return err
	}
	delete(fm.values, string(key))
	fm.removeSorted(string(key))
	return nil
}

func (fm *fileMap) appendRecord(key, value []byte) error {
	var lens [8]byte
	binary.BigEndian.PutUint32(lens[0:4], uint32(len(key)))
	binary.BigEndian.PutUint32(lens[4:8], uint32(len(value)))
	if _, err := fm.f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if _, err := fm.f.Write(lens[:]); err != nil {
		return err
	}
	if _, err := fm.f.Write(key); err != nil {
		return err
	}
	if _, err := fm.f.Write(value); err != nil {
		return err
	}
	return fm.f.Sync()
}

func (fm *fileMap) insertSorted(k string) {
	i := sort.SearchStrings(fm.keys, k)
	fm.keys = append(fm.keys, "")
	copy(fm.keys[i+1:], fm.keys[i:])
	fm.keys[i] = k
}

func (fm *fileMap) removeSorted(k string) {
	i := sort.SearchStrings(fm.keys, k)
	if i < len(fm.keys) && fm.keys[i] == k {
		fm.keys = append(fm.keys[:i], fm.keys[i+1:]...)
	}
}

func (fm *fileMap) iterator(start, end []byte) pile.Iterator {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	lo := sort.SearchStrings(fm.keys, string(start))
	hi := len(fm.keys)
	if end != nil {
		hi = sort.SearchStrings(fm.keys, string(end))
	}
	keys := make([]string, hi-lo)
	copy(keys, fm.keys[lo:hi])
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = fm.values[k]
	}
	return &fsIterator{keys: keys, values: values}
}

func (fm *fileMap) close() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.f.Close()
}

type fsIterator struct {
	keys   []string
	values [][]byte
	pos    int
}

func (it *fsIterator) Valid() bool    { return it.pos < len(it.keys) }
func (it *fsIterator) Next()          { it.pos++ }
func (it *fsIterator) Key() []byte    { return []byte(it.keys[it.pos]) }
func (it *fsIterator) Value() []byte  { return it.values[it.pos] }
func (it *fsIterator) Close() error   { return nil }

// Store is the filesystem-backed pile.KV implementing spec.md §6's
// six-file layout, single-writer-enforced via an advisory lock file.
type Store struct {
	dir    string
	lock   *flock.Flock
	hoard  *fileMap
	cache  *fileMap
	keep   *fileMap
	index  *fileMap
	stand  *fileMap
	mine   *fileMap
}

// Open opens (creating if absent) a pile directory, taking an exclusive
// advisory lock for the lifetime of the Store.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fsstore: create dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("fsstore: acquire lock: %w", err)
	}
	if !locked {
		return nil, ErrAlreadyOpen
	}

	maps := make([]*fileMap, len(fileSpecs))
	for i, spec := range fileSpecs {
		fm, err := openFileMap(dir, spec.name, spec.magic)
		if err != nil {
			_ = lock.Unlock()
			return nil, err
		}
		maps[i] = fm
	}

	return &Store{
		dir:   dir,
		lock:  lock,
		hoard: maps[0],
		cache: maps[1],
		keep:  maps[2],
		index: maps[3],
		stand: maps[4],
		mine:  maps[5],
	}, nil
}

// Close releases the file handles and the advisory lock.
func (s *Store) Close() error {
	for _, fm := range []*fileMap{s.hoard, s.cache, s.keep, s.index, s.stand, s.mine} {
		if err := fm.close(); err != nil {
			return err
		}
	}
	return s.lock.Unlock()
}

func (s *Store) route(key []byte) (*fileMap, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("fsstore: empty key")
	}
	switch key[0] {
	case prefixHoard:
		return s.hoard, nil
	case prefixCache:
		return s.cache, nil
	case prefixKeep:
		return s.keep, nil
	case prefixIndex:
		return s.index, nil
	case prefixStand:
		return s.stand, nil
	case prefixMine, prefixPending, prefixHistory, 'G':
		return s.mine, nil
	default:
		return nil, fmt.Errorf("fsstore: unrouted key prefix %q", key[0])
	}
}

// Get implements pile.KV.
func (s *Store) Get(key []byte) ([]byte, error) {
	fm, err := s.route(key)
	if err != nil {
		return nil, err
	}
	return fm.get(key)
}

// Set implements pile.KV.
func (s *Store) Set(key, value []byte) error {
	fm, err := s.route(key)
	if err != nil {
		return err
	}
	return fm.set(key, value)
}

// Delete implements pile.KV.
func (s *Store) Delete(key []byte) error {
	fm, err := s.route(key)
	if err != nil {
		return err
	}
	return fm.delete(key)
}

// Iterator implements pile.KV. Range queries never cross a file boundary
// in practice because every caller scans within one logical map's prefix
// byte, so routing by the start key is sufficient.
func (s *Store) Iterator(start, end []byte) (pile.Iterator, error) {
	fm, err := s.route(start)
	if err != nil {
		return nil, err
	}
	return fm.iterator(start, end), nil
}
