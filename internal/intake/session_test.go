package intake

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/fedepagnotta/lottery-server/internal/bet"
	"github.com/fedepagnotta/lottery-server/internal/draw"
	"github.com/fedepagnotta/lottery-server/internal/logging"
	"github.com/fedepagnotta/lottery-server/internal/store"
	"github.com/fedepagnotta/lottery-server/internal/wire"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "bets.log"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return s
}

// TestSessionSingleAgencySingleWinner exercises scenario S1: one client, one
// batch, one winner.
func TestSessionSingleAgencySingleWinner(t *testing.T) {
	st := newTestStore(t)
	coord := draw.New(1, st, func(b bet.Bet) bool { return b.Number == 7477 })

	client, server := net.Pipe()
	defer client.Close()

	sess := NewSession(server, st, coord, logging.L(), 0)
	done := make(chan struct{})
	go func() { sess.Run(); close(done) }()

	payload := "1;2\nana;soler;30111222;1990-01-01;7477\nluis;gomez;30333444;1985-05-05;1234\n"
	if err := wire.Send(client, []byte(payload)); err != nil {
		t.Fatalf("send batch: %v", err)
	}
	ack, err := wire.Receive(client)
	if err != nil {
		t.Fatalf("receive ack: %v", err)
	}
	if got := string(ack); got[:7] != "success" {
		t.Fatalf("ack = %q, want success;...", got)
	}

	if err := wire.Send(client, []byte("END")); err != nil {
		t.Fatalf("send END: %v", err)
	}

	winners, err := wire.Receive(client)
	if err != nil {
		t.Fatalf("receive winners: %v", err)
	}
	if string(winners) != "30111222" {
		t.Fatalf("winners = %q, want 30111222", winners)
	}

	waitClosed(t, done)
}

// TestSessionEmptyWinners exercises scenario S4.
func TestSessionEmptyWinners(t *testing.T) {
	st := newTestStore(t)
	coord := draw.New(1, st, func(bet.Bet) bool { return false })

	client, server := net.Pipe()
	defer client.Close()
	sess := NewSession(server, st, coord, logging.L(), 0)
	done := make(chan struct{})
	go func() { sess.Run(); close(done) }()

	if err := wire.Send(client, []byte("1;1\na;b;c;1990-01-01;5\n")); err != nil {
		t.Fatalf("send batch: %v", err)
	}
	if _, err := wire.Receive(client); err != nil {
		t.Fatalf("receive ack: %v", err)
	}
	if err := wire.Send(client, []byte("END")); err != nil {
		t.Fatalf("send END: %v", err)
	}
	winners, err := wire.Receive(client)
	if err != nil {
		t.Fatalf("receive winners: %v", err)
	}
	if string(winners) != "NO_WINNERS" {
		t.Fatalf("winners = %q, want NO_WINNERS", winners)
	}
	waitClosed(t, done)
}

// TestSessionInvalidBatchThenValid exercises scenario S3: an invalid batch
// gets a NACK, the session stays open, and only the valid batch's bet
// appears in the store.
func TestSessionInvalidBatchThenValid(t *testing.T) {
	st := newTestStore(t)
	coord := draw.New(1, st, func(bet.Bet) bool { return true })

	client, server := net.Pipe()
	defer client.Close()
	sess := NewSession(server, st, coord, logging.L(), 0)
	done := make(chan struct{})
	go func() { sess.Run(); close(done) }()

	if err := wire.Send(client, []byte("1;2\nbad-line\nx;y;z;w;q;extra\n")); err != nil {
		t.Fatalf("send invalid batch: %v", err)
	}
	nack, err := wire.Receive(client)
	if err != nil {
		t.Fatalf("receive nack: %v", err)
	}
	if got := string(nack); got[:5] != "error" {
		t.Fatalf("nack = %q, want error;...", got)
	}

	if err := wire.Send(client, []byte("1;1\nok;name;999;1990-01-01;1\n")); err != nil {
		t.Fatalf("send valid batch: %v", err)
	}
	ack, err := wire.Receive(client)
	if err != nil {
		t.Fatalf("receive ack: %v", err)
	}
	if got := string(ack); got[:7] != "success" {
		t.Fatalf("ack = %q, want success;...", got)
	}

	if err := wire.Send(client, []byte("END")); err != nil {
		t.Fatalf("send END: %v", err)
	}
	winners, err := wire.Receive(client)
	if err != nil {
		t.Fatalf("receive winners: %v", err)
	}
	if string(winners) != "999" {
		t.Fatalf("winners = %q, want 999 (only the valid bet)", winners)
	}
	waitClosed(t, done)
}

// TestSessionClientDisconnectBeforeEndDoesNotJoinBarrier exercises that a
// worker which never reaches END never calls the rendezvous (spec §4.5).
func TestSessionClientDisconnectBeforeEndDoesNotJoinBarrier(t *testing.T) {
	st := newTestStore(t)
	coord := draw.New(2, st, func(bet.Bet) bool { return false })

	client, server := net.Pipe()
	sess := NewSession(server, st, coord, logging.L(), 0)
	done := make(chan struct{})
	go func() { sess.Run(); close(done) }()

	if err := wire.Send(client, []byte("1;1\na;b;c;1990-01-01;5\n")); err != nil {
		t.Fatalf("send batch: %v", err)
	}
	if _, err := wire.Receive(client); err != nil {
		t.Fatalf("receive ack: %v", err)
	}
	client.Close() // disconnect before END

	waitClosed(t, done)

	// The session finishing above, with the barrier sized for two parties and
	// no other party present, shows it never joined the barrier; abort it as
	// shutdown would.
	coord.Abort()
}

func waitClosed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}
