// Package openmrstest provides an in-memory stand-in for the backend REST
// API: sessions with cookies, providers with attributes, and a location
// tree.
package openmrstest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
)

const (
	RestPath   = "/ws/rest/v1"
	cookieName = "JSESSIONID"
)

type Ref struct {
	UUID    string `json:"uuid"`
	Display string `json:"display"`
}

type Attribute struct {
	UUID          string `json:"uuid"`
	Voided        bool   `json:"voided"`
	AttributeType Ref    `json:"attributeType"`
	Value         Ref    `json:"value"`
}

type user struct {
	uuid     string
	username string
	password string
}

type provider struct {
	uuid       string
	userUUID   string
	attributes []*Attribute
}

type location struct {
	uuid    string
	display string
	parent  string
	tags    []string
	retired bool
}

type sessionState struct {
	user     *user
	location string
}

// Server is safe for concurrent use. Counters record every mutating call.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	users     map[string]*user
	providers map[string]*provider
	locations map[string]*location
	sessions  map[string]*sessionState
	seq       int

	failWrites    bool
	ignoreSetLoc  bool
	hold          chan struct{}
	held          chan struct{}
	creates       int
	updates       int
	deletes       int
	locationPosts int
}

func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		users:     make(map[string]*user),
		providers: make(map[string]*provider),
		locations: make(map[string]*location),
		sessions:  make(map[string]*sessionState),
	}
	s.Server = httptest.NewServer(http.StripPrefix(RestPath, http.HandlerFunc(s.serve)))
	t.Cleanup(s.Close)
	return s
}

// RESTBaseURL is the URL a client should be rooted at.
func (s *Server) RESTBaseURL() string {
	return s.URL + RestPath
}

// -- Fixtures --

func (s *Server) AddUser(username, password, userUUID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &user{uuid: userUUID, username: username, password: password}
}

func (s *Server) AddProvider(userUUID, providerUUID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[providerUUID] = &provider{uuid: providerUUID, userUUID: userUUID}
}

// AddAttribute attaches an attribute of attributeType to the provider.
func (s *Server) AddAttribute(providerUUID, attributeUUID, attributeType, locationUUID string, voided bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.providers[providerUUID]
	p.attributes = append(p.attributes, &Attribute{
		UUID:          attributeUUID,
		Voided:        voided,
		AttributeType: Ref{UUID: attributeType, Display: "Default Location"},
		Value:         s.refLocked(locationUUID),
	})
}

func (s *Server) AddLocation(uuid, display, parent string, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[uuid] = &location{uuid: uuid, display: display, parent: parent, tags: tags}
}

func (s *Server) RetireLocation(uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[uuid].retired = true
}

// FailAttributeWrites makes attribute create and update answer 500.
func (s *Server) FailAttributeWrites(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = fail
}

// HoldAttributeWrites parks attribute writes until release is called. The
// returned channel receives once per write that reaches the hold.
func (s *Server) HoldAttributeWrites() (held <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hold := make(chan struct{})
	s.hold = hold
	s.held = make(chan struct{}, 8)
	var once sync.Once
	return s.held, func() { once.Do(func() { close(hold) }) }
}

// IgnoreSessionLocation accepts session location updates without applying
// them.
func (s *Server) IgnoreSessionLocation(ignore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreSetLoc = ignore
}

// -- Inspection --

func (s *Server) Attributes(providerUUID string) []Attribute {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Attribute
	for _, a := range s.providers[providerUUID].attributes {
		out = append(out, *a)
	}
	return out
}

func (s *Server) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

func (s *Server) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

func (s *Server) Deletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}

// OpenSessions counts authenticated server-side sessions.
func (s *Server) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.sessions {
		if st.user != nil {
			n++
		}
	}
	return n
}

// SessionLocations lists the location of every open session.
func (s *Server) SessionLocations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, st := range s.sessions {
		if st.user != nil {
			out = append(out, st.location)
		}
	}
	sort.Strings(out)
	return out
}

// -- Routing --

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(path, "/")

	if r.Method == http.MethodPost && len(parts) >= 3 && parts[0] == "provider" && parts[2] == "attribute" {
		s.waitForRelease()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case path == "session":
		s.serveSession(w, r)
	case parts[0] == "provider" || parts[0] == "location":
		if s.currentLocked(r) == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if parts[0] == "provider" {
			s.serveProvider(w, r, parts[1:])
		} else {
			s.serveLocation(w, r, parts[1:])
		}
	default:
		writeError(w, http.StatusNotFound, "no such resource")
	}
}

func (s *Server) waitForRelease() {
	s.mu.Lock()
	hold, held := s.hold, s.held
	s.mu.Unlock()
	if hold == nil {
		return
	}
	held <- struct{}{}
	<-hold
}

func (s *Server) currentLocked(r *http.Request) *sessionState {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return nil
	}
	st := s.sessions[c.Value]
	if st == nil || st.user == nil {
		return nil
	}
	return st
}

func (s *Server) serveSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if u := s.basicUserLocked(r); u != nil {
			s.seq++
			id := fmt.Sprintf("session-%d", s.seq)
			s.sessions[id] = &sessionState{user: u}
			http.SetCookie(w, &http.Cookie{Name: cookieName, Value: id, Path: "/"})
			writeJSON(w, http.StatusOK, s.sessionBodyLocked(s.sessions[id]))
			return
		}
		if r.Header.Get("Authorization") != "" {
			writeJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, s.sessionBodyLocked(s.currentLocked(r)))

	case http.MethodPost:
		st := s.currentLocked(r)
		if st == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		var body struct {
			SessionLocation string `json:"sessionLocation"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if _, ok := s.locations[body.SessionLocation]; !ok {
			writeError(w, http.StatusBadRequest, "unknown location")
			return
		}
		s.locationPosts++
		if !s.ignoreSetLoc {
			st.location = body.SessionLocation
		}
		w.WriteHeader(http.StatusOK)

	case http.MethodDelete:
		s.deletes++
		if c, err := r.Cookie(cookieName); err == nil {
			delete(s.sessions, c.Value)
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) basicUserLocked(r *http.Request) *user {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Basic ") {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(h, "Basic "))
	if err != nil {
		return nil
	}
	name, pass, _ := strings.Cut(string(raw), ":")
	u := s.users[name]
	if u == nil || u.password != pass {
		return nil
	}
	return u
}

func (s *Server) sessionBodyLocked(st *sessionState) map[string]interface{} {
	if st == nil || st.user == nil {
		return map[string]interface{}{"authenticated": false}
	}
	body := map[string]interface{}{
		"authenticated": true,
		"user": map[string]string{
			"uuid":     st.user.uuid,
			"username": st.user.username,
			"display":  st.user.username,
		},
		"locale": "en",
	}
	for _, p := range s.providers {
		if p.userUUID == st.user.uuid {
			body["currentProvider"] = Ref{UUID: p.uuid, Display: st.user.username}
			break
		}
	}
	if st.location != "" {
		body["sessionLocation"] = s.refLocked(st.location)
	}
	return body
}

func (s *Server) serveProvider(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		userUUID := r.URL.Query().Get("user")
		results := []map[string]interface{}{}
		for _, p := range s.sortedProvidersLocked() {
			if p.userUUID != userUUID {
				continue
			}
			results = append(results, map[string]interface{}{
				"uuid":       p.uuid,
				"display":    p.uuid,
				"person":     Ref{UUID: "person-" + p.uuid},
				"attributes": p.attributes,
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})

	case len(parts) >= 2 && parts[1] == "attribute" && r.Method == http.MethodPost:
		p := s.providers[parts[0]]
		if p == nil {
			writeError(w, http.StatusNotFound, "provider not found")
			return
		}
		if s.failWrites {
			writeError(w, http.StatusInternalServerError, "write rejected")
			return
		}
		var body struct {
			AttributeType string `json:"attributeType"`
			Value         string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if len(parts) == 2 {
			s.creates++
			s.seq++
			a := &Attribute{
				UUID:          fmt.Sprintf("attr-%d", s.seq),
				AttributeType: Ref{UUID: body.AttributeType, Display: "Default Location"},
				Value:         s.refLocked(body.Value),
			}
			p.attributes = append(p.attributes, a)
			writeJSON(w, http.StatusCreated, a)
			return
		}
		for _, a := range p.attributes {
			if a.UUID == parts[2] {
				s.updates++
				a.Value = s.refLocked(body.Value)
				writeJSON(w, http.StatusOK, a)
				return
			}
		}
		writeError(w, http.StatusNotFound, "attribute not found")

	default:
		writeError(w, http.StatusNotFound, "no such resource")
	}
}

func (s *Server) sortedProvidersLocked() []*provider {
	out := make([]*provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].uuid < out[j].uuid })
	return out
}

func (s *Server) serveLocation(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if len(parts) == 1 {
		loc := s.locations[parts[0]]
		if loc == nil {
			writeError(w, http.StatusNotFound, "location not found")
			return
		}
		writeJSON(w, http.StatusOK, s.fullLocked(loc))
		return
	}

	tag := r.URL.Query().Get("tag")
	results := []map[string]interface{}{}
	for _, loc := range s.sortedLocationsLocked() {
		for _, t := range loc.tags {
			if t == tag {
				results = append(results, s.fullLocked(loc))
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) sortedLocationsLocked() []*location {
	out := make([]*location, 0, len(s.locations))
	for _, l := range s.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].uuid < out[j].uuid })
	return out
}

func (s *Server) fullLocked(loc *location) map[string]interface{} {
	tags := make([]Ref, 0, len(loc.tags))
	for _, t := range loc.tags {
		tags = append(tags, Ref{UUID: t, Display: t})
	}
	children := []Ref{}
	for _, c := range s.sortedLocationsLocked() {
		if c.parent == loc.uuid {
			children = append(children, Ref{UUID: c.uuid, Display: c.display})
		}
	}
	body := map[string]interface{}{
		"uuid":           loc.uuid,
		"display":        loc.display,
		"name":           loc.display,
		"retired":        loc.retired,
		"tags":           tags,
		"childLocations": children,
	}
	if loc.parent != "" {
		body["parentLocation"] = s.refLocked(loc.parent)
	}
	return body
}

func (s *Server) refLocked(uuid string) Ref {
	if loc, ok := s.locations[uuid]; ok {
		return Ref{UUID: uuid, Display: loc.display}
	}
	return Ref{UUID: uuid, Display: uuid}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"message": msg},
	})
}
