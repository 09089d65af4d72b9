package login

import (
	"context"
	"sync"
	"time"

	"github.com/ehr/ehrlogin/internal/domain/authn"
	"github.com/ehr/ehrlogin/internal/domain/location"
	"github.com/ehr/ehrlogin/internal/domain/picker"
	"github.com/ehr/ehrlogin/internal/domain/session"
)

// Status tells the client what to do after a login attempt.
type Status string

const (
	StatusRedirect       Status = "redirect"
	StatusSelectLocation Status = "select_location"
	StatusExternal       Status = "external"
)

// Login attempt outcomes, used as metric labels.
const (
	outcomeRedirect           = "redirect"
	outcomeSelectLocation     = "select_location"
	outcomeExternal           = "external"
	outcomeInvalidCredentials = "invalid_credentials"
	outcomeNoProvider         = "no_provider"
	outcomeError              = "error"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Result is returned by Login. Redirect results still carry a workflow so
// the client can later change location, confirm or log out.
type Result struct {
	Status     Status           `json:"status"`
	Redirect   string           `json:"redirect,omitempty"`
	Location   *location.Ref    `json:"location,omitempty"`
	WorkflowID string           `json:"workflow_id,omitempty"`
	Token      string           `json:"token,omitempty"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
	Options    []picker.Option  `json:"options,omitempty"`
	Picker     *picker.Snapshot `json:"picker,omitempty"`
	LogoutURL  string           `json:"logout_url,omitempty"`
	// Notice explains why a stored default location was not applied.
	Notice string `json:"notice,omitempty"`
}

// Workflow is everything that belongs to one login: the session it
// established, the backend client behind it and the location picker.
type Workflow struct {
	ID           string
	UserUUID     string
	ProviderUUID string
	CreatedAt    time.Time
	ExpiresAt    time.Time

	Session    *session.Controller
	Machine    *picker.Machine
	gate       *authn.Gate
	redirector *session.Redirector
	detach     func()
	closeOnce  sync.Once
}

// expire ends a workflow nobody finished: the backend session is logged out
// and the local one cleared while observers are still attached, then the
// workflow is closed. The logout error is returned after the clear.
func (w *Workflow) expire(ctx context.Context) error {
	var err error
	if w.Session != nil && w.Session.Snapshot().Authenticated {
		if w.gate != nil {
			err = w.gate.Logout(ctx)
		}
		w.Session.Clear()
	}
	w.Close()
	return err
}

// Close stops in-flight directory fetches and detaches session observers.
// Safe to call more than once.
func (w *Workflow) Close() {
	w.closeOnce.Do(func() {
		if w.Machine != nil {
			w.Machine.Close()
		}
		if w.detach != nil {
			w.detach()
		}
	})
}
