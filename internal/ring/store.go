// Package ring implements the generic "load latest valid, save to next
// slot" N-file ring described in spec §4.6: a small redundancy scheme for
// persisting a single versioned object without a WAL or external database.
package ring

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Versioned is the contract a ring-stored object must satisfy: every saved
// object carries a monotonically increasing sequence number, with 0
// reserved to mean "never saved".
type Versioned interface {
	SequenceNumber() uint64
	SetSequenceNumber(uint64)
}

// Codec serializes and deserializes the opaque record body; the ring adds
// no header of its own beyond what Versioned exposes.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

var (
	// ErrAlphabetTooShort is returned by New when the ring alphabet is
	// shorter than two bytes. Repeated characters are not checked.
	ErrAlphabetTooShort = errors.New("ringstore: alphabet must name at least two slots")
	// ErrParentIsFile is returned when auto_create_path finds the parent
	// directory already exists as a regular file.
	ErrParentIsFile = errors.New("ringstore: parent path exists and is not a directory")
)

// Options configures a Store.
type Options struct {
	Dir      string // directory holding the ring's files
	Base     string // filename prefix, before the ring character
	Ext      string // filename suffix, after the ring character
	Alphabet string // one byte per slot, e.g. "ab" or "abcde"
	Codec    Codec

	// AutoCreatePath creates Dir once, lazily, on first Save; it fails if
	// Dir already exists as a non-directory.
	AutoCreatePath bool
	// WriteThrough opens the slot file with O_SYNC so every Write call
	// itself reaches the device before returning.
	WriteThrough bool
	// FlushOnSave calls File.Sync() once after the record is fully
	// written, independent of WriteThrough.
	FlushOnSave bool
}

// Store is a ring of len(Alphabet) files, each named <Base><c><.><Ext> for
// c in Alphabet, holding successive versions of one record.
type Store struct {
	opts Options

	mu       sync.Mutex
	lastSlot int // index of the slot last loaded or written; -1 if none yet
	lastSeq  uint64

	dirOnce sync.Once
	dirErr  error
}

// New validates opts and constructs a Store. It performs no I/O.
func New(opts Options) (*Store, error) {
	if len(opts.Alphabet) < 2 {
		return nil, ErrAlphabetTooShort
	}
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	return &Store{opts: opts, lastSlot: -1}, nil
}

func (s *Store) slotPath(i int) string {
	name := s.opts.Base + string(s.opts.Alphabet[i]) + "." + s.opts.Ext
	return filepath.Join(s.opts.Dir, name)
}

// Load reads every slot, deserializing each into a fresh record obtained
// from newRecord, and returns the one with the highest non-zero sequence
// number. A slot that fails to read or deserialize, carries a zero
// sequence number, or duplicates another slot's sequence number is
// reported in errs but never prevents a valid slot elsewhere from winning.
// winner is nil only if no slot held a usable record.
func (s *Store) Load(newRecord func() Versioned) (winner Versioned, errs []error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seenAt := make(map[uint64]int, len(s.opts.Alphabet))
	winnerSlot := -1

	for i := 0; i < len(s.opts.Alphabet); i++ {
		path := s.slotPath(i)
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, errors.Wrapf(err, "ringstore: read %s", path))
			}
			continue
		}
		rec := newRecord()
		if err := s.opts.Codec.Unmarshal(data, rec); err != nil {
			errs = append(errs, errors.Wrapf(err, "ringstore: decode %s", path))
			continue
		}
		seq := rec.SequenceNumber()
		if seq == 0 {
			errs = append(errs, errors.Errorf("ringstore: %s has sequence number 0 (never saved)", path))
			continue
		}
		if other, dup := seenAt[seq]; dup {
			errs = append(errs, errors.Errorf("ringstore: %s duplicates sequence number %d from slot %d", path, seq, other))
		}
		seenAt[seq] = i

		if winner == nil || seq > winner.SequenceNumber() {
			winner = rec
			winnerSlot = i
		}
	}

	if winnerSlot >= 0 {
		s.lastSlot = winnerSlot
		s.lastSeq = winner.SequenceNumber()
	}
	return winner, errs
}

// Save increments the sequence number, selects the slot after the one just
// loaded or last written (round-robin), serializes rec, and replaces that
// slot's file by writing the final path directly (create-and-close): the
// slot just read from is never touched, so a crash mid-write leaves the
// ring's other slots -- including the one Load would otherwise have
// returned -- untouched.
func (s *Store) Save(rec Versioned) error {
	if s.opts.AutoCreatePath {
		if err := s.ensureDir(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextSeq := s.lastSeq + 1
	rec.SetSequenceNumber(nextSeq)

	data, err := s.opts.Codec.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "ringstore: encode")
	}

	nextSlot := 0
	if s.lastSlot >= 0 {
		nextSlot = (s.lastSlot + 1) % len(s.opts.Alphabet)
	}
	path := s.slotPath(nextSlot)

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if s.opts.WriteThrough {
		flags |= os.O_SYNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return errors.Wrapf(err, "ringstore: create %s", path)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "ringstore: write %s", path)
	}
	if s.opts.FlushOnSave {
		if err := f.Sync(); err != nil {
			f.Close()
			return errors.Wrapf(err, "ringstore: sync %s", path)
		}
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "ringstore: close %s", path)
	}

	s.lastSlot = nextSlot
	s.lastSeq = nextSeq
	return nil
}

func (s *Store) ensureDir() error {
	s.dirOnce.Do(func() {
		info, err := os.Stat(s.opts.Dir)
		if err == nil {
			if !info.IsDir() {
				s.dirErr = ErrParentIsFile
			}
			return
		}
		if !os.IsNotExist(err) {
			s.dirErr = err
			return
		}
		s.dirErr = os.MkdirAll(s.opts.Dir, 0755)
	})
	return s.dirErr
}
