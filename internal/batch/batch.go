// Package batch turns a frame payload (see internal/wire) into the END
// marker, an empty no-op, or a structured batch of bets, per spec §4.2.
// Grounded on original_source/server/common/batch.py, adapted to return a
// tagged union instead of raising on the END/EMPTY cases.
package batch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fedepagnotta/lottery-server/internal/bet"
)

// Kind tags which variant a parsed payload produced.
type Kind int

const (
	KindEnd Kind = iota
	KindEmpty
	KindBatch
)

const fieldSeparator = ";"

// Batch is the result of parsing one frame payload.
type Batch struct {
	Kind     Kind
	AgencyID int
	Bets     []bet.Bet
}

// ErrParse classifies every grammar violation in spec §4.2.
var ErrParse = errors.New("parse")

// Parse classifies payload into END, EMPTY, or a fully validated BATCH. On
// any grammar violation it returns ErrParse and commits nothing: the
// returned Batch is always the zero value on error.
func Parse(payload []byte) (Batch, error) {
	if !utf8.Valid(payload) {
		return Batch{}, fmt.Errorf("%w: invalid encoding", ErrParse)
	}
	text := string(payload)
	trimmed := strings.TrimSpace(text)
	if trimmed == "END" {
		return Batch{Kind: KindEnd}, nil
	}
	if trimmed == "" {
		return Batch{Kind: KindEmpty}, nil
	}

	lines := nonEmptyLines(text)
	header := strings.Split(lines[0], fieldSeparator)
	if len(header) != 2 {
		return Batch{}, fmt.Errorf("%w: invalid batch header %q", ErrParse, lines[0])
	}
	agencyStr := strings.TrimSpace(header[0])
	if agencyStr == "" {
		return Batch{}, fmt.Errorf("%w: empty agency in header %q", ErrParse, lines[0])
	}
	agencyID, err := strconv.Atoi(agencyStr)
	if err != nil || agencyID <= 0 {
		return Batch{}, fmt.Errorf("%w: agency %q is not a positive integer", ErrParse, agencyStr)
	}
	countStr := strings.TrimSpace(header[1])
	count, err := strconv.Atoi(countStr)
	if err != nil || count < 0 {
		return Batch{}, fmt.Errorf("%w: bet count %q is not a non-negative integer", ErrParse, countStr)
	}

	betLines := lines[1:]
	if len(betLines) != count {
		return Batch{}, fmt.Errorf("%w: header declares %d bets, got %d", ErrParse, count, len(betLines))
	}

	bets := make([]bet.Bet, 0, count)
	for _, line := range betLines {
		b, err := parseBetLine(line, agencyID)
		if err != nil {
			return Batch{}, err
		}
		bets = append(bets, b)
	}

	return Batch{Kind: KindBatch, AgencyID: agencyID, Bets: bets}, nil
}

func parseBetLine(line string, agencyID int) (bet.Bet, error) {
	fields := strings.Split(line, fieldSeparator)
	if len(fields) != 5 {
		return bet.Bet{}, fmt.Errorf("%w: expected 5 fields, got %d in line %q", ErrParse, len(fields), line)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	firstName, lastName, document, birthdate, numberStr := fields[0], fields[1], fields[2], fields[3], fields[4]
	for _, f := range []string{firstName, lastName, document, birthdate} {
		if !bet.NonEmptyTrimmed(f) {
			return bet.Bet{}, fmt.Errorf("%w: empty field in bet line %q", ErrParse, line)
		}
	}
	number, err := strconv.Atoi(numberStr)
	if err != nil || number < 0 {
		return bet.Bet{}, fmt.Errorf("%w: number %q is not a non-negative integer", ErrParse, numberStr)
	}
	return bet.Bet{
		Agency:    agencyID,
		FirstName: firstName,
		LastName:  lastName,
		Document:  document,
		Birthdate: birthdate,
		Number:    number,
	}, nil
}

// nonEmptyLines splits text on newlines and drops empty/whitespace-only
// lines (tolerating trailing newlines, per spec §6).
func nonEmptyLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
