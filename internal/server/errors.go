package server

import "errors"

// Sentinel errors used for wrapping so callers can classify via errors.Is,
// mirroring the teacher's own errors.go split (acceptor-level failures here;
// per-connection failures are classified in internal/intake instead, since
// this protocol has no handshake or backend-transmit step to wrap).
var (
	ErrListen  = errors.New("listen")
	ErrAccept  = errors.New("accept")
	ErrContext = errors.New("context_cancelled")
)
