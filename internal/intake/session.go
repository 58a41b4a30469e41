// Package intake implements the per-connection state machine of spec §4.4:
// READY_FOR_BATCH → (END | EMPTY | BATCH | failure) → ... → FINISHED_SENDING
// → DRAW_DONE → DISCONNECT, with FAILED as the other terminal state.
//
// Grounded on internal/server/reader.go and writer.go for the
// worker-per-connection shape, and on
// original_source/server/common/server.py's _handle_client_connection for
// the actual state transitions (this repo's protocol is strictly
// request/response, so — unlike the teacher's duplex CAN stream — one
// goroutine drives the whole session sequentially).
package intake

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/fedepagnotta/lottery-server/internal/batch"
	"github.com/fedepagnotta/lottery-server/internal/draw"
	"github.com/fedepagnotta/lottery-server/internal/metrics"
	"github.com/fedepagnotta/lottery-server/internal/store"
	"github.com/fedepagnotta/lottery-server/internal/wire"
)

type state int

const (
	stateReadyForBatch state = iota
	stateFinishedSending
	stateDrawDone
	stateFailed
	stateDisconnect
)

const noWinnersLiteral = "NO_WINNERS"

// Session drives one accepted connection through the intake state machine.
type Session struct {
	conn         net.Conn
	store        *store.Store
	coordinator  *draw.Coordinator
	logger       *slog.Logger
	readDeadline time.Duration

	agencyID    int
	agencyKnown bool
}

// NewSession constructs a Session for one accepted connection. readDeadline
// of 0 disables the per-read timeout.
func NewSession(conn net.Conn, st *store.Store, coord *draw.Coordinator, logger *slog.Logger, readDeadline time.Duration) *Session {
	return &Session{conn: conn, store: st, coordinator: coord, logger: logger, readDeadline: readDeadline}
}

// Run executes the state machine to completion. It always closes the
// connection before returning (spec §3: the session owns the socket and
// releases it on every exit path).
func (s *Session) Run() {
	defer func() { _ = s.conn.Close() }()

	cur := stateReadyForBatch
	for {
		switch cur {
		case stateReadyForBatch:
			cur = s.readyForBatch()
		case stateFinishedSending:
			cur = s.finishedSending()
		case stateDrawDone:
			cur = s.drawDone()
		case stateFailed, stateDisconnect:
			return
		}
	}
}

// readyForBatch receives one frame and dispatches on its parsed kind.
func (s *Session) readyForBatch() state {
	if s.readDeadline > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.readDeadline))
	}
	payload, err := wire.Receive(s.conn)
	if err != nil {
		if errors.Is(err, wire.ErrFraming) {
			metrics.IncError(metrics.ErrFraming)
			s.logger.Warn("frame_error", "error", err)
		} else {
			// ErrShortRead and ErrIO both terminate the session (spec §7).
			metrics.IncError(metrics.ErrIO)
			s.logger.Warn("io_error", "error", err)
		}
		return stateFailed
	}

	b, perr := batch.Parse(payload)
	if perr != nil {
		metrics.IncError(metrics.ErrParse)
		metrics.IncBatchFailed()
		if sendErr := s.sendAck("error", perr.Error()); sendErr != nil {
			s.logger.Warn("io_error", "error", sendErr)
			return stateFailed
		}
		s.logger.Info("batch_rejected", "error", perr)
		return stateReadyForBatch
	}

	switch b.Kind {
	case batch.KindEnd:
		return stateFinishedSending
	case batch.KindEmpty:
		return stateReadyForBatch
	default:
		return s.handleBatch(b)
	}
}

// handleBatch appends a parsed batch's bets, enforcing the agency-pinning
// invariant of spec §4.4: a mismatched agency on a later batch yields a
// NACK but keeps the session alive (the spec's adopted resolution of its
// own Open Question in §9).
func (s *Session) handleBatch(b batch.Batch) state {
	if !s.agencyKnown {
		s.agencyID = b.AgencyID
		s.agencyKnown = true
	} else if b.AgencyID != s.agencyID {
		metrics.IncBatchFailed()
		msg := fmt.Sprintf("agency %d does not match session agency %d", b.AgencyID, s.agencyID)
		if err := s.sendAck("error", msg); err != nil {
			s.logger.Warn("io_error", "error", err)
			return stateFailed
		}
		s.logger.Warn("agency_mismatch", "got", b.AgencyID, "want", s.agencyID)
		return stateReadyForBatch
	}

	if err := s.store.Append(b.Bets); err != nil {
		metrics.IncError(metrics.ErrStorage)
		metrics.IncBatchFailed()
		if sendErr := s.sendAck("error", err.Error()); sendErr != nil {
			s.logger.Warn("io_error", "error", sendErr)
			return stateFailed
		}
		s.logger.Error("batch_storage_failed", "agency", b.AgencyID, "count", len(b.Bets), "error", err)
		return stateReadyForBatch
	}

	metrics.IncBatchOK(len(b.Bets))
	if err := s.sendAck("success", fmt.Sprintf("stored %d bets", len(b.Bets))); err != nil {
		s.logger.Warn("io_error", "error", err)
		return stateFailed
	}
	s.logger.Info("batch_stored", "agency", b.AgencyID, "count", len(b.Bets))
	return stateReadyForBatch
}

func (s *Session) sendAck(status, message string) error {
	payload := fmt.Sprintf("%s;%s", status, message)
	return wire.Send(s.conn, []byte(payload))
}

// finishedSending joins the draw barrier. A BROKEN barrier (shutdown in
// progress) sends no winners frame and terminates the session.
func (s *Session) finishedSending() state {
	metrics.IncClientFinishedSending()
	s.logger.Info("client_finished_sending", "agency", s.agencyID)

	// A read deadline no longer applies once this client has stopped
	// sending; clear it so a slow draw doesn't look like a read timeout.
	_ = s.conn.SetReadDeadline(time.Time{})

	if err := s.coordinator.ArriveAndWait(); err != nil {
		metrics.IncError(metrics.ErrBroken)
		s.logger.Info("barrier_broken", "agency", s.agencyID)
		return stateFailed
	}
	return stateDrawDone
}

// drawDone sends the one winners frame for this session's agency.
func (s *Session) drawDone() state {
	docs := s.coordinator.WinnersFor(s.agencyID)
	payload := noWinnersLiteral
	if len(docs) > 0 {
		payload = strings.Join(docs, ";")
	}
	if err := wire.Send(s.conn, []byte(payload)); err != nil {
		metrics.IncError(metrics.ErrIO)
		s.logger.Warn("io_error", "error", err)
		return stateFailed
	}
	s.logger.Info("winners_sent", "agency", s.agencyID, "count", len(docs))
	return stateDisconnect
}
