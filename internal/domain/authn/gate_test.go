package authn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/ehrlogin/internal/platform/openmrs"
)

type fakeSessionServer struct {
	*httptest.Server
	gets    int
	deletes int
}

// newFakeSessionServer accepts nurse1/secret and rejects everything else the
// way the backend does: 200 with authenticated=false.
func newFakeSessionServer(t *testing.T, status int) *fakeSessionServer {
	t.Helper()
	f := &fakeSessionServer{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/rest/v1/session" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		switch r.Method {
		case http.MethodDelete:
			f.deletes++
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			f.gets++
			if status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
			if r.Header.Get("Authorization") == "Basic "+openmrs.BasicToken("nurse1", "secret") {
				w.Write([]byte(`{"authenticated":true,"user":{"uuid":"user-1"},"currentProvider":{"uuid":"prov-1"}}`))
				return
			}
			w.Write([]byte(`{"authenticated":false}`))
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestGate(t *testing.T, url string) *Gate {
	t.Helper()
	c, err := openmrs.NewClient(url+"/ws/rest/v1", time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return NewGate(c, zerolog.Nop())
}

func TestAuthenticate_Success(t *testing.T) {
	srv := newFakeSessionServer(t, http.StatusOK)
	g := newTestGate(t, srv.URL)

	s, err := g.Authenticate(context.Background(), "nurse1", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Authenticated || s.UserUUID() != "user-1" || s.ProviderUUID() != "prov-1" {
		t.Errorf("unexpected session %+v", s)
	}
	if s.LocationUUID() != "" {
		t.Error("no location should be assumed")
	}
	if srv.deletes != 0 {
		t.Error("successful login must not delete the session")
	}
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	srv := newFakeSessionServer(t, http.StatusOK)
	g := newTestGate(t, srv.URL)

	_, err := g.Authenticate(context.Background(), "nurse1", "wrongpass")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if srv.deletes != 1 {
		t.Errorf("expected the half-open session to be deleted once, got %d", srv.deletes)
	}
}

func TestAuthenticate_Non2xx(t *testing.T) {
	srv := newFakeSessionServer(t, http.StatusUnauthorized)
	g := newTestGate(t, srv.URL)

	_, err := g.Authenticate(context.Background(), "nurse1", "secret")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if srv.deletes != 1 {
		t.Errorf("expected delete after rejection, got %d", srv.deletes)
	}
}

func TestAuthenticate_EmptyCredentials(t *testing.T) {
	srv := newFakeSessionServer(t, http.StatusOK)
	g := newTestGate(t, srv.URL)

	if _, err := g.Authenticate(context.Background(), "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if srv.gets != 0 {
		t.Errorf("empty credentials must not be sent, got %d session reads", srv.gets)
	}
	if srv.deletes != 1 {
		t.Errorf("expected delete after rejection, got %d", srv.deletes)
	}
}

func TestAuthenticate_TransportError(t *testing.T) {
	srv := newFakeSessionServer(t, http.StatusOK)
	g := newTestGate(t, srv.URL)
	srv.Close()

	_, err := g.Authenticate(context.Background(), "nurse1", "secret")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	srv := newFakeSessionServer(t, http.StatusOK)
	g := newTestGate(t, srv.URL)

	if err := g.Logout(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv.deletes != 1 {
		t.Errorf("expected 1 delete, got %d", srv.deletes)
	}
}
