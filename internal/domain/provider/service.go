package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/ehrlogin/internal/platform/audit"
	"github.com/ehr/ehrlogin/internal/platform/metrics"
)

var (
	// ErrProviderNotFound means no provider record is linked to the user.
	ErrProviderNotFound = errors.New("no provider linked to user")
	// ErrAttributeWrite wraps a failed create or update of the default
	// location attribute.
	ErrAttributeWrite = errors.New("default location attribute write failed")
)

type Service struct {
	repo              Repository
	attributeTypeUUID string
	recorder          audit.Recorder
	logger            zerolog.Logger
	metrics           *metrics.Metrics
}

func NewService(repo Repository, attributeTypeUUID string, recorder audit.Recorder, logger zerolog.Logger, m *metrics.Metrics) *Service {
	if recorder == nil {
		recorder = audit.Nop()
	}
	return &Service{
		repo:              repo,
		attributeTypeUUID: attributeTypeUUID,
		recorder:          recorder,
		logger:            logger,
		metrics:           m,
	}
}

// -- Resolver --

// ResolveDefaultLocation looks up the user's provider and its default
// location attribute. A missing provider or attribute is not an error; the
// corresponding fields are left empty. When several attributes carry the
// default-location type the first non-voided one wins, and the duplicates
// are left untouched.
func (s *Service) ResolveDefaultLocation(ctx context.Context, userUUID string) (*Resolution, error) {
	res := &Resolution{}
	if userUUID == "" {
		return res, nil
	}

	providers, err := s.repo.FindByUser(ctx, userUUID)
	if err != nil {
		return nil, fmt.Errorf("look up provider for user %s: %w", userUUID, err)
	}
	if len(providers) == 0 || providers[0] == nil {
		s.logger.Debug().Str("user", userUUID).Msg("no provider linked to user")
		return res, nil
	}

	p := providers[0]
	res.ProviderUUID = p.UUID
	matches := 0
	for _, attr := range p.Attributes {
		if attr.Voided || attr.AttributeType.UUID != s.attributeTypeUUID {
			continue
		}
		matches++
		if matches > 1 {
			continue
		}
		res.ExistingAttributeUUID = attr.UUID
		res.LocationUUID = attr.Value.UUID
		res.LocationDisplay = attr.Value.Display
	}
	if matches > 1 {
		s.logger.Warn().Str("provider", p.UUID).Int("count", matches).Msg("provider has duplicate default location attributes, using the first")
	}
	return res, nil
}

// -- Writer --

// WriteDefaultLocation stores locationUUID as the provider's default
// location and returns the attribute uuid. With an existing attribute uuid
// that instance is updated; otherwise a new attribute is created. Callers
// keep the returned uuid so repeated writes update instead of create.
func (s *Service) WriteDefaultLocation(ctx context.Context, providerUUID, existingAttributeUUID, locationUUID string) (string, error) {
	if providerUUID == "" {
		return "", ErrProviderNotFound
	}
	if locationUUID == "" {
		return "", fmt.Errorf("%w: location is required", ErrAttributeWrite)
	}

	path := audit.PathCreate
	var (
		attributeUUID string
		err           error
	)
	if existingAttributeUUID != "" {
		path = audit.PathUpdate
		attributeUUID, err = s.repo.UpdateAttribute(ctx, providerUUID, existingAttributeUUID, locationUUID)
	} else {
		attributeUUID, err = s.repo.CreateAttribute(ctx, providerUUID, s.attributeTypeUUID, locationUUID)
	}
	if err != nil {
		s.metrics.AttributeWrite(path, metrics.ResultError)
		s.logger.Error().Err(err).Str("provider", providerUUID).Str("path", path).Msg("default location write failed")
		return "", fmt.Errorf("%w: %v", ErrAttributeWrite, err)
	}
	s.metrics.AttributeWrite(path, metrics.ResultOK)

	if err := s.recorder.Record(ctx, audit.NewEvent(providerUUID, attributeUUID, locationUUID, path)); err != nil {
		s.logger.Warn().Err(err).Str("provider", providerUUID).Msg("failed to record location assignment")
	}
	s.logger.Info().
		Str("provider", providerUUID).
		Str("attribute", attributeUUID).
		Str("location", locationUUID).
		Str("path", path).
		Msg("default location written")
	return attributeUUID, nil
}
