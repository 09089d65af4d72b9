package session

import "github.com/ehr/ehrlogin/internal/domain/location"

// User is the authenticated backend user as returned by the session resource.
type User struct {
	UUID     string        `json:"uuid"`
	Display  string        `json:"display,omitempty"`
	Username string        `json:"username,omitempty"`
	SystemID string        `json:"systemId,omitempty"`
	Person   *location.Ref `json:"person,omitempty"`
}

// Session is the value owned by a Controller. Version increases by one on
// every replacement; a zero Version is the initial empty session.
type Session struct {
	Version         uint64        `json:"version"`
	Authenticated   bool          `json:"authenticated"`
	User            *User         `json:"user,omitempty"`
	SessionLocation *location.Ref `json:"sessionLocation,omitempty"`
	CurrentProvider *location.Ref `json:"currentProvider,omitempty"`
	Locale          string        `json:"locale,omitempty"`
}

// UserUUID returns the authenticated user's uuid, or "".
func (s Session) UserUUID() string {
	if s.User == nil {
		return ""
	}
	return s.User.UUID
}

// LocationUUID returns the active session location, or "".
func (s Session) LocationUUID() string {
	if s.SessionLocation == nil {
		return ""
	}
	return s.SessionLocation.UUID
}

// ProviderUUID returns the provider linked to the session, or "".
func (s Session) ProviderUUID() string {
	if s.CurrentProvider == nil {
		return ""
	}
	return s.CurrentProvider.UUID
}

// clone copies the pointer fields so a snapshot never aliases the stored
// value.
func (s Session) clone() Session {
	out := s
	if s.User != nil {
		u := *s.User
		if s.User.Person != nil {
			p := *s.User.Person
			u.Person = &p
		}
		out.User = &u
	}
	if s.SessionLocation != nil {
		l := *s.SessionLocation
		out.SessionLocation = &l
	}
	if s.CurrentProvider != nil {
		p := *s.CurrentProvider
		out.CurrentProvider = &p
	}
	return out
}
