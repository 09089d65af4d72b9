// Package login runs the whole login workflow: credentials, provider
// lookup, then either an immediate session location commit or a location
// picker the client drives step by step.
package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/ehrlogin/internal/config"
	"github.com/ehr/ehrlogin/internal/domain/authn"
	"github.com/ehr/ehrlogin/internal/domain/location"
	"github.com/ehr/ehrlogin/internal/domain/picker"
	"github.com/ehr/ehrlogin/internal/domain/provider"
	"github.com/ehr/ehrlogin/internal/domain/session"
	"github.com/ehr/ehrlogin/internal/platform/audit"
	"github.com/ehr/ehrlogin/internal/platform/auth"
	"github.com/ehr/ehrlogin/internal/platform/metrics"
	"github.com/ehr/ehrlogin/internal/platform/openmrs"
	"github.com/ehr/ehrlogin/pkg/pagination"
)

// Mirror copies a workflow's session elsewhere. *session.RedisMirror
// implements it.
type Mirror interface {
	Attach(ctrl *session.Controller, workflowID string) (func(), error)
}

type Service struct {
	cfg      *config.Config
	registry *Registry
	issuer   *auth.Issuer
	recorder audit.Recorder
	mirror   Mirror
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewService wires the workflow dependencies. recorder and mirror may be
// nil.
func NewService(cfg *config.Config, registry *Registry, issuer *auth.Issuer, recorder audit.Recorder, mirror Mirror, logger zerolog.Logger, m *metrics.Metrics) *Service {
	if recorder == nil {
		recorder = audit.Nop()
	}
	return &Service{
		cfg:      cfg,
		registry: registry,
		issuer:   issuer,
		recorder: recorder,
		mirror:   mirror,
		logger:   logger,
		metrics:  m,
	}
}

// Login authenticates the user and resolves their session location. With a
// stored default location the session is committed right away; otherwise
// the result opens a picker workflow. Invalid credentials and a user without
// a provider record leave no session behind.
func (s *Service) Login(ctx context.Context, creds Credentials) (*Result, error) {
	if s.cfg.IsOAuth2() {
		s.metrics.Login(outcomeExternal)
		return &Result{Status: StatusExternal, Redirect: s.cfg.OAuth2LoginURL}, nil
	}

	client, err := openmrs.NewClient(s.cfg.RestBaseURL(), s.cfg.HTTPClientTimeout)
	if err != nil {
		s.metrics.Login(outcomeError)
		return nil, err
	}

	gate := authn.NewGate(client, s.logger)
	sess, err := gate.Authenticate(ctx, creds.Username, creds.Password)
	if err != nil {
		if errors.Is(err, authn.ErrInvalidCredentials) {
			s.metrics.Login(outcomeInvalidCredentials)
		} else {
			s.metrics.Login(outcomeError)
		}
		return nil, err
	}

	ctrl := session.NewController(s.logger)

	providers := provider.NewService(provider.NewRESTRepo(client), s.cfg.AttributeTypeUUID, s.recorder, s.logger, s.metrics)
	res, err := providers.ResolveDefaultLocation(ctx, sess.UserUUID())
	if err != nil {
		s.abandon(ctx, gate, ctrl)
		s.metrics.Login(outcomeError)
		return nil, fmt.Errorf("resolve default location: %w", err)
	}
	if !res.HasProvider() {
		s.logger.Warn().Str("user", sess.UserUUID()).Msg("no provider linked to user")
		s.abandon(ctx, gate, ctrl)
		s.metrics.Login(outcomeNoProvider)
		return nil, provider.ErrProviderNotFound
	}

	redirector := session.NewRedirector(session.NewRESTBackend(client), ctrl, s.cfg.LoginSuccessURL, s.logger, s.metrics)
	dir := location.NewAccessor(location.NewRESTDirectory(client), s.logger, s.metrics)
	machine := picker.NewMachine(dir, providers, redirector, picker.Config{
		FacilityUUID:      s.cfg.FacilityLocationUUID,
		ClinicTagUUID:     s.cfg.ClinicTagUUID,
		IPDDepartmentUUID: s.cfg.IPDDepartmentUUID,
	}, picker.Target{
		ProviderUUID:          res.ProviderUUID,
		ExistingAttributeUUID: res.ExistingAttributeUUID,
		CurrentLocationUUID:   sess.LocationUUID(),
	}, s.logger)

	w := &Workflow{
		UserUUID:     sess.UserUUID(),
		ProviderUUID: res.ProviderUUID,
		Session:      ctrl,
		Machine:      machine,
		gate:         gate,
		redirector:   redirector,
	}
	id := s.registry.Add(w)
	if s.mirror != nil {
		detach, err := s.mirror.Attach(ctrl, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("workflow_id", id).Msg("session mirror unavailable")
		} else {
			w.detach = detach
		}
	}
	// observers are attached, so the first replacement reaches them
	ctrl.Replace(*sess)

	token, exp, err := s.issuer.Issue(id, w.UserUUID)
	if err != nil {
		s.registry.Remove(id)
		s.abandon(ctx, gate, ctrl)
		s.metrics.Login(outcomeError)
		return nil, err
	}

	result := &Result{
		WorkflowID: id,
		Token:      token,
		ExpiresAt:  &exp,
		LogoutURL:  s.cfg.LogoutURL,
	}

	if res.HasLocation() {
		url, err := redirector.CommitLocation(ctx, res.LocationUUID)
		if err == nil {
			s.metrics.Login(outcomeRedirect)
			result.Status = StatusRedirect
			result.Redirect = url
			result.Location = &location.Ref{UUID: res.LocationUUID, Display: res.LocationDisplay}
			return result, nil
		}
		// fail closed: the user picks a location instead
		s.logger.Warn().Err(err).Str("location", res.LocationUUID).Msg("stored default location not applied")
		result.Notice = err.Error()
	}

	s.metrics.Login(outcomeSelectLocation)
	snap := machine.Snapshot()
	result.Status = StatusSelectLocation
	result.Options = picker.Options()
	result.Picker = &snap
	return result, nil
}

// abandon terminates the backend session opened by a login that cannot
// continue.
func (s *Service) abandon(ctx context.Context, gate *authn.Gate, ctrl *session.Controller) {
	if err := gate.Logout(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to terminate session")
	}
	ctrl.Clear()
}

func (s *Service) Workflow(id string) (*Workflow, error) {
	return s.registry.Get(id)
}

// -- Picker steps --

func (s *Service) Picker(id string) (picker.Snapshot, error) {
	w, err := s.registry.Get(id)
	if err != nil {
		return picker.Snapshot{}, err
	}
	return w.Machine.Snapshot(), nil
}

func (s *Service) ChooseMode(ctx context.Context, id string, mode picker.OptionID) (picker.Snapshot, error) {
	w, err := s.registry.Get(id)
	if err != nil {
		return picker.Snapshot{}, err
	}
	return w.Machine.ChooseMode(ctx, mode)
}

func (s *Service) SelectClinic(ctx context.Context, id, clinicUUID string) (picker.Snapshot, error) {
	w, err := s.registry.Get(id)
	if err != nil {
		return picker.Snapshot{}, err
	}
	return w.Machine.SelectClinic(ctx, clinicUUID)
}

func (s *Service) Select(id, locationUUID string) (picker.Snapshot, error) {
	w, err := s.registry.Get(id)
	if err != nil {
		return picker.Snapshot{}, err
	}
	return w.Machine.Select(locationUUID)
}

func (s *Service) Submit(ctx context.Context, id string) (picker.Snapshot, error) {
	w, err := s.registry.Get(id)
	if err != nil {
		return picker.Snapshot{}, err
	}
	return w.Machine.Submit(ctx)
}

func (s *Service) Reset(id string) (picker.Snapshot, error) {
	w, err := s.registry.Get(id)
	if err != nil {
		return picker.Snapshot{}, err
	}
	return w.Machine.Reset()
}

// -- Session --

func (s *Service) Session(id string) (session.Session, error) {
	w, err := s.registry.Get(id)
	if err != nil {
		return session.Session{}, err
	}
	return w.Session.Snapshot(), nil
}

// Confirm re-reads the backend session and returns the post-login URL when
// a location is set.
func (s *Service) Confirm(ctx context.Context, id string) (string, error) {
	w, err := s.registry.Get(id)
	if err != nil {
		return "", err
	}
	return w.redirector.Confirm(ctx)
}

// Assignments returns one page of the default-location assignments recorded
// for the workflow's provider, newest first, and whether another page
// follows.
func (s *Service) Assignments(ctx context.Context, id string, page pagination.Params) ([]*audit.Event, bool, error) {
	w, err := s.registry.Get(id)
	if err != nil {
		return nil, false, err
	}
	if w.ProviderUUID == "" {
		return nil, false, nil
	}
	events, err := s.recorder.List(ctx, w.ProviderUUID, page.Probe())
	if err != nil {
		return nil, false, fmt.Errorf("list assignments: %w", err)
	}
	if len(events) > page.Limit {
		return events[:page.Limit], true, nil
	}
	return events, false, nil
}

// Logout ends the backend session, clears the local one, revokes the
// workflow token and returns where to send the user. A workflow that is no
// longer authenticated goes straight to the login page.
func (s *Service) Logout(ctx context.Context, id string, claims *auth.Claims) (string, error) {
	w, err := s.registry.Get(id)
	if err != nil {
		return "", err
	}
	defer s.registry.Remove(id)
	s.issuer.Revoke(claims)

	if !w.Session.Snapshot().Authenticated {
		return s.cfg.LoginURL, nil
	}

	logoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := w.gate.Logout(logoutCtx); err != nil {
		s.logger.Warn().Err(err).Str("workflow_id", id).Msg("backend logout failed")
	}
	w.Session.Clear()
	s.logger.Info().Str("workflow_id", id).Str("user", w.UserUUID).Msg("logged out")

	if s.cfg.IsOAuth2() {
		return s.cfg.OAuth2LogoutURL, nil
	}
	return s.cfg.LoginURL, nil
}
