package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ErrRejected wraps every admission failure.
var ErrRejected = errors.New("realtime: connection rejected")

// TokenVerifier resolves an identity token to a user id.
type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}

// Session admits new connections: verify, register, replay.
type Session struct {
	verifier TokenVerifier
	registry *Registry
	replayer *Replayer
}

// NewSession wires the handshake collaborators.
func NewSession(verifier TokenVerifier, registry *Registry, replayer *Replayer) *Session {
	return &Session{verifier: verifier, registry: registry, replayer: replayer}
}

// Authenticate resolves the user behind token. Errors wrap ErrRejected.
// Transports call it before upgrading so a rejected client gets no connection.
func (s *Session) Authenticate(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrRejected)
	}
	userID, err := s.verifier.Verify(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if userID == "" {
		return "", fmt.Errorf("%w: token carries no user id", ErrRejected)
	}
	return userID, nil
}

// Open registers t for an authenticated user and replays undelivered
// notifications over it. A replay failure is logged; the connection stays
// registered and receives live pushes.
func (s *Session) Open(ctx context.Context, userID string, t Transport) *Conn {
	conn := s.registry.Register(userID, t)

	n, err := s.replayer.Replay(ctx, userID, t)
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("replay of undelivered notifications failed")
	} else if n > 0 {
		log.Info().Str("user", userID).Int("count", n).Msg("undelivered notifications replayed")
	}
	return conn
}

// Close unregisters and closes conn.
func (s *Session) Close(conn *Conn) {
	s.registry.Remove(conn)
}
