package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// Identity is attached to a connection once and never changes for its lifetime.
type Identity struct {
	UserID domain.UserID
}

// Authenticator gates new connections. It runs before any presence or room state
// is created, so a rejected handshake leaves nothing behind.
type Authenticator struct {
	Verifier core.CredentialVerifier
}

func NewAuthenticator(v core.CredentialVerifier) *Authenticator {
	return &Authenticator{Verifier: v}
}

func (a *Authenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing credential", domain.ErrUnauthenticated)
	}
	uid, err := a.Verifier.Verify(ctx, token)
	if err != nil {
		log.Info().Err(err).Str("module", "app.auth").Msg("credential rejected")
		if errors.Is(err, domain.ErrUnauthenticated) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if uid == "" || len(uid) > domain.MaxUserIDLen {
		return Identity{}, fmt.Errorf("%w: invalid subject", domain.ErrUnauthenticated)
	}
	return Identity{UserID: uid}, nil
}
