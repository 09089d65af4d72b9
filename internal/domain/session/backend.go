package session

import (
	"context"
	"net/http"

	"github.com/ehr/ehrlogin/internal/platform/openmrs"
)

// Backend is the server-side session resource.
type Backend interface {
	// Fetch reads the session bound to the client's cookie.
	Fetch(ctx context.Context) (*Session, error)
	// SetLocation sets the server-side session location.
	SetLocation(ctx context.Context, locationUUID string) error
	// Delete terminates the server-side session.
	Delete(ctx context.Context) error
}

const sessionPath = "session"

type restBackend struct {
	client *openmrs.Client
}

func NewRESTBackend(client *openmrs.Client) Backend {
	return &restBackend{client: client}
}

func (b *restBackend) Fetch(ctx context.Context) (*Session, error) {
	var s Session
	if err := b.client.Do(ctx, openmrs.Request{Method: http.MethodGet, Path: sessionPath}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *restBackend) SetLocation(ctx context.Context, locationUUID string) error {
	return b.client.Do(ctx, openmrs.Request{
		Method: http.MethodPost,
		Path:   sessionPath,
		Body:   map[string]string{"sessionLocation": locationUUID},
	}, nil)
}

func (b *restBackend) Delete(ctx context.Context) error {
	return b.client.Do(ctx, openmrs.Request{Method: http.MethodDelete, Path: sessionPath}, nil)
}
