package server

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/fedepagnotta/lottery-server/internal/bet"
	"github.com/fedepagnotta/lottery-server/internal/draw"
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

// TestServeAcceptsExpectedClientsAndRunsDraw starts the acceptor on an
// ephemeral port, as the teacher's own smoke test does, then drives two
// agency clients through a full batch/END/winners exchange.
func TestServeAcceptsExpectedClientsAndRunsDraw(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st := newTestStore(t)
	coord := draw.New(2, st, func(b bet.Bet) bool { return b.Number == 7 })

	srv := NewServer(
		WithListenAddr(":0"),
		WithExpectedClients(2),
		WithStore(st),
		WithCoordinator(coord),
		WithReadDeadline(2*time.Second),
	)

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(1 * time.Second):
		t.Fatal("server did not signal readiness")
	}
	addr := srv.Addr()

	dial := func() net.Conn {
		d := net.Dialer{Timeout: 1 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		return conn
	}

	c1 := dial()
	defer c1.Close()
	c2 := dial()
	defer c2.Close()

	run := func(conn net.Conn, agency int, number int, document string, wantWinners string) {
		payload := "1;1\nfirst;last;" + document + ";1990-01-01;" + itoa(number) + "\n"
		payload = replaceAgency(payload, agency)
		if err := wire.Send(conn, []byte(payload)); err != nil {
			t.Fatalf("send batch: %v", err)
		}
		if _, err := wire.Receive(conn); err != nil {
			t.Fatalf("receive ack: %v", err)
		}
		if err := wire.Send(conn, []byte("END")); err != nil {
			t.Fatalf("send END: %v", err)
		}
		winners, err := wire.Receive(conn)
		if err != nil {
			t.Fatalf("receive winners: %v", err)
		}
		if string(winners) != wantWinners {
			t.Fatalf("winners = %q, want %q", winners, wantWinners)
		}
	}

	doneC1 := make(chan struct{})
	doneC2 := make(chan struct{})
	go func() { run(c1, 1, 7, "1001", "1001"); close(doneC1) }()
	go func() { run(c2, 2, 9, "2002", "NO_WINNERS"); close(doneC2) }()

	for _, d := range []chan struct{}{doneC1, doneC2} {
		select {
		case <-d:
		case <-time.After(3 * time.Second):
			t.Fatal("client exchange did not complete")
		}
	}

	select {
	case err := <-serveDone:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after expected clients disconnected")
	}
}

// TestShutdownAbortsPendingBarrier exercises graceful shutdown while a
// client is blocked waiting for the draw (spec §5).
func TestShutdownAbortsPendingBarrier(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st := newTestStore(t)
	coord := draw.New(2, st, func(bet.Bet) bool { return false })
	srv := NewServer(
		WithListenAddr(":0"),
		WithExpectedClients(2),
		WithStore(st),
		WithCoordinator(coord),
	)

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(1 * time.Second):
		t.Fatal("server did not signal readiness")
	}

	d := net.Dialer{Timeout: 1 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := wire.Send(conn, []byte("1;1\na;b;c;1990-01-01;1\n")); err != nil {
		t.Fatalf("send batch: %v", err)
	}
	if _, err := wire.Receive(conn); err != nil {
		t.Fatalf("receive ack: %v", err)
	}
	if err := wire.Send(conn, []byte("END")); err != nil {
		t.Fatalf("send END: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func replaceAgency(payload string, agency int) string {
	return itoa(agency) + payload[1:]
}
