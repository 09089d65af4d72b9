package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/ehrlogin/internal/platform/metrics"
)

var (
	// ErrNoLocation is returned when there is no location to commit. The
	// caller must stay on the picker.
	ErrNoLocation = errors.New("no session location to commit")
	// ErrLocationNotCommitted means the backend did not report the requested
	// location after the commit.
	ErrLocationNotCommitted = errors.New("session location was not committed")
)

// Redirector commits a resolved location as the active session location and
// produces the post-login destination.
type Redirector struct {
	backend    Backend
	ctrl       *Controller
	successURL string
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

func NewRedirector(backend Backend, ctrl *Controller, successURL string, logger zerolog.Logger, m *metrics.Metrics) *Redirector {
	return &Redirector{
		backend:    backend,
		ctrl:       ctrl,
		successURL: successURL,
		logger:     logger,
		metrics:    m,
	}
}

// CommitLocation sets the session location, re-reads the session so the
// stored value reflects the backend, and returns the URL to navigate to. On
// any error no URL is returned and the Session keeps its previous value.
func (r *Redirector) CommitLocation(ctx context.Context, locationUUID string) (string, error) {
	if locationUUID == "" {
		r.metrics.LocationCommit(metrics.ResultError)
		return "", ErrNoLocation
	}

	if err := r.backend.SetLocation(ctx, locationUUID); err != nil {
		r.metrics.LocationCommit(metrics.ResultError)
		return "", fmt.Errorf("set session location %s: %w", locationUUID, err)
	}

	refreshed, err := r.backend.Fetch(ctx)
	if err != nil {
		r.metrics.LocationCommit(metrics.ResultError)
		return "", fmt.Errorf("refresh session: %w", err)
	}
	if !refreshed.Authenticated || refreshed.LocationUUID() != locationUUID {
		r.metrics.LocationCommit(metrics.ResultError)
		r.logger.Warn().
			Str("requested", locationUUID).
			Str("reported", refreshed.LocationUUID()).
			Bool("authenticated", refreshed.Authenticated).
			Msg("backend did not confirm session location")
		return "", ErrLocationNotCommitted
	}

	stored := r.ctrl.Replace(*refreshed)
	r.metrics.LocationCommit(metrics.ResultOK)
	r.logger.Info().
		Str("user", stored.UserUUID()).
		Str("location", locationUUID).
		Uint64("version", stored.Version).
		Msg("session location committed")
	return r.successURL, nil
}

// Refresh re-reads the backend session and stores it.
func (r *Redirector) Refresh(ctx context.Context) (Session, error) {
	s, err := r.backend.Fetch(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("refresh session: %w", err)
	}
	return r.ctrl.Replace(*s), nil
}

// Confirm refreshes the session and returns the post-login URL when it is
// authenticated with a location set. Otherwise it returns ErrNoLocation.
func (r *Redirector) Confirm(ctx context.Context) (string, error) {
	s, err := r.Refresh(ctx)
	if err != nil {
		return "", err
	}
	if !s.Authenticated || s.LocationUUID() == "" {
		return "", ErrNoLocation
	}
	return r.successURL, nil
}

