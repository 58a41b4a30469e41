// Package store implements the append-only bet log of spec §4.3: durable
// append under mutual exclusion, and a scan used exactly once the barrier
// in internal/rendezvous confirms every client has finished submitting.
//
// Grounded on original_source/server/common/bet_handler.py for the
// append/scan/lock shape, restructured with an explicit sync.Mutex the way
// internal/hub/hub.go guards its client map in the teacher repo.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fedepagnotta/lottery-server/internal/bet"
)

// ErrStorage classifies any I/O failure during Append, per spec §7.
var ErrStorage = errors.New("storage")

const fieldSeparator = ";"

// Store is a process-wide, append-only bet log backed by a file. The
// on-disk layout is this repo's own choice — spec §6 leaves the bet file
// format opaque and specifies only the append/scan contract.
type Store struct {
	mu   sync.Mutex
	path string
}

// New opens (creating if necessary) the bet log at path.
func New(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorage, path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorage, path, err)
	}
	return &Store{path: path}, nil
}

// Append durably writes all bets in order, atomically with respect to other
// Append calls. On any I/O error no partial write is assumed persisted and
// the caller must treat the whole batch as failed (spec §4.3).
func (s *Store) Append(bets []bet.Bet) error {
	if len(bets) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, b := range bets {
		if _, err := fmt.Fprintln(w, encodeLine(b)); err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// Scan yields every stored bet. Callers must only invoke Scan once all
// Appends are known complete (enforced by the rendezvous barrier, §4.3).
func (s *Store) Scan() ([]bet.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer f.Close()

	var bets []bet.Bet
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		b, err := decodeLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt bet record: %v", ErrStorage, err)
		}
		bets = append(bets, b)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return bets, nil
}

func encodeLine(b bet.Bet) string {
	return strings.Join([]string{
		strconv.Itoa(b.Agency),
		b.FirstName,
		b.LastName,
		b.Document,
		b.Birthdate,
		strconv.Itoa(b.Number),
	}, fieldSeparator)
}

func decodeLine(line string) (bet.Bet, error) {
	fields := strings.Split(line, fieldSeparator)
	if len(fields) != 6 {
		return bet.Bet{}, fmt.Errorf("expected 6 fields, got %d", len(fields))
	}
	agency, err := strconv.Atoi(fields[0])
	if err != nil {
		return bet.Bet{}, err
	}
	number, err := strconv.Atoi(fields[5])
	if err != nil {
		return bet.Bet{}, err
	}
	return bet.Bet{
		Agency:    agency,
		FirstName: fields[1],
		LastName:  fields[2],
		Document:  fields[3],
		Birthdate: fields[4],
		Number:    number,
	}, nil
}

// HasWon is the externally supplied predicate classifying a winning bet.
// The store does not define its semantics (spec §4.3).
type HasWon func(bet.Bet) bool
