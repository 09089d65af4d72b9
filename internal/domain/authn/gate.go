// Package authn exchanges credentials for an authenticated backend session.
package authn

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ehr/ehrlogin/internal/domain/session"
	"github.com/ehr/ehrlogin/internal/platform/openmrs"
)

// ErrInvalidCredentials is returned when the backend rejects the credentials
// or reports the session as unauthenticated. The caller must reset the form.
var ErrInvalidCredentials = errors.New("invalid credentials")

type Gate struct {
	client  *openmrs.Client
	backend session.Backend
	logger  zerolog.Logger
}

// NewGate builds a gate on the workflow's own client so the session cookie
// the backend sets is reused by every later call of the workflow.
func NewGate(client *openmrs.Client, logger zerolog.Logger) *Gate {
	return &Gate{
		client:  client,
		backend: session.NewRESTBackend(client),
		logger:  logger,
	}
}

// Authenticate sends the credentials once as a Basic header. On rejection
// the half-open server session is deleted before ErrInvalidCredentials is
// returned. The returned Session carries no location assumption beyond what
// the backend reported.
func (g *Gate) Authenticate(ctx context.Context, username, password string) (*session.Session, error) {
	if username == "" || password == "" {
		g.reject(ctx, username)
		return nil, ErrInvalidCredentials
	}

	var s session.Session
	err := g.client.Do(ctx, openmrs.Request{
		Method:     http.MethodGet,
		Path:       "session",
		BasicToken: openmrs.BasicToken(username, password),
	}, &s)

	var apiErr *openmrs.APIError
	switch {
	case err == nil && s.Authenticated:
		g.logger.Debug().Str("user", s.UserUUID()).Msg("credentials accepted")
		return &s, nil
	case err != nil && !errors.As(err, &apiErr):
		// transport failure, the credentials were never judged
		return nil, err
	}

	g.reject(ctx, username)
	return nil, ErrInvalidCredentials
}

// reject deletes whatever session the backend holds for this client so a
// rejected attempt never leaves one open.
func (g *Gate) reject(ctx context.Context, username string) {
	g.logger.Warn().Str("username", username).Msg("credentials rejected")
	if err := g.backend.Delete(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("failed to terminate rejected session")
	}
}

// Logout terminates the server-side session.
func (g *Gate) Logout(ctx context.Context) error {
	return g.backend.Delete(ctx)
}
