package picker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/ehr/ehrlogin/internal/domain/location"
)

const (
	facility = "facility"
	clinicTg = "clinic-tag"
	ipd      = "ipd"
)

// -- Fakes --

type fakeDirectory struct {
	mu        sync.Mutex
	locations map[string]*location.Location
	clinics   []location.Ref
	err       error
	block     chan struct{}
	entered   chan struct{}
	cancels   int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		locations: map[string]*location.Location{
			"R1": {UUID: "R1", ParentLocation: &location.Ref{UUID: "C0"}},
			"C0": {UUID: "C0", ChildLocations: []location.Child{{UUID: "R1", Display: "Room 1"}, {UUID: "R2", Display: "Room 2"}}},
			"C1": {UUID: "C1", ChildLocations: []location.Child{{UUID: "R7", Display: "Room 7"}}},
			"C2": {UUID: "C2", ChildLocations: []location.Child{{UUID: "R9", Display: "Room 9"}}},
			ipd:  {UUID: ipd, ChildLocations: []location.Child{{UUID: "W1", Display: "Ward 1"}}},
		},
		clinics: []location.Ref{{UUID: "C1", Display: "Clinic 1"}, {UUID: "C2", Display: "Clinic 2"}},
	}
}

func (f *fakeDirectory) wait() error {
	f.mu.Lock()
	block, entered, err := f.block, f.entered, f.err
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return err
}

func (f *fakeDirectory) get(uuid string) *location.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	if loc, ok := f.locations[uuid]; ok {
		return loc
	}
	return &location.Location{}
}

func (f *fakeDirectory) FetchChildren(_ context.Context, _ location.Slot, uuid string) (*location.Location, error) {
	if err := f.wait(); err != nil {
		return nil, err
	}
	return f.get(uuid), nil
}

func (f *fakeDirectory) FetchSiblings(_ context.Context, _ location.Slot, uuid string) (*location.Location, error) {
	if err := f.wait(); err != nil {
		return nil, err
	}
	return f.get(f.get(uuid).ParentUUID()), nil
}

func (f *fakeDirectory) FetchByTag(_ context.Context, _ location.Slot, tagUUID, parentUUID string) ([]location.Ref, error) {
	if err := f.wait(); err != nil {
		return nil, err
	}
	if tagUUID != clinicTg || parentUUID != facility {
		return []location.Ref{}, nil
	}
	return f.clinics, nil
}

func (f *fakeDirectory) CancelAll() {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
}

type write struct {
	provider, existing, location string
}

type fakeWriter struct {
	mu      sync.Mutex
	writes  []write
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (w *fakeWriter) WriteDefaultLocation(_ context.Context, providerUUID, existing, locationUUID string) (string, error) {
	w.mu.Lock()
	w.writes = append(w.writes, write{providerUUID, existing, locationUUID})
	block, entered, err := w.block, w.entered, w.err
	w.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}
	return "attr-new", nil
}

type fakeCommitter struct {
	committed []string
	err       error
}

func (c *fakeCommitter) CommitLocation(_ context.Context, locationUUID string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.committed = append(c.committed, locationUUID)
	return "/home", nil
}

func newTestMachine(dir Directory, w Writer, c Committer, target Target) *Machine {
	cfg := Config{FacilityUUID: facility, ClinicTagUUID: clinicTg, IPDDepartmentUUID: ipd}
	return NewMachine(dir, w, c, cfg, target, zerolog.Nop())
}

// -- Tests --

func TestOptions(t *testing.T) {
	opts := Options()
	if len(opts) != 4 || opts[0].ID != SwitchRoom || opts[3].ID != SwitchClinicAndRoom {
		t.Errorf("unexpected options %+v", opts)
	}
	opts[0].Label = "changed"
	if Options()[0].Label == "changed" {
		t.Error("Options must return a copy")
	}
}

func TestInitialState(t *testing.T) {
	m := newTestMachine(newFakeDirectory(), &fakeWriter{}, &fakeCommitter{}, Target{ProviderUUID: "prov-1"})
	s := m.Snapshot()
	if s.State != StateIdle || s.CanSubmit || s.Mode != "" {
		t.Errorf("unexpected initial snapshot %+v", s)
	}
	if _, err := m.Submit(context.Background()); !errors.Is(err, ErrNoMode) {
		t.Errorf("expected ErrNoMode, got %v", err)
	}
}

func TestUnknownMode(t *testing.T) {
	m := newTestMachine(newFakeDirectory(), &fakeWriter{}, &fakeCommitter{}, Target{})
	if _, err := m.ChooseMode(context.Background(), "switchEverything"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode, got %v", err)
	}
}

func TestClinicScenario_CreatePathThenCommit(t *testing.T) {
	w := &fakeWriter{}
	c := &fakeCommitter{}
	m := newTestMachine(newFakeDirectory(), w, c, Target{ProviderUUID: "prov-1"})
	ctx := context.Background()

	s, err := m.ChooseMode(ctx, SwitchClinic)
	if err != nil {
		t.Fatalf("ChooseMode: %v", err)
	}
	if s.State != StateReady || len(s.Choices.Clinics) != 2 || len(s.Choices.Rooms) != 0 {
		t.Fatalf("unexpected snapshot %+v", s)
	}

	s, err = m.SelectClinic(ctx, "C1")
	if err != nil {
		t.Fatalf("SelectClinic: %v", err)
	}
	if !location.Contains(s.Choices.Rooms, "R7") {
		t.Fatalf("expected R7 in rooms, got %+v", s.Choices.Rooms)
	}
	if s.CanSubmit {
		t.Error("clinic mode needs a room before submit")
	}
	if _, err := m.Submit(ctx); !errors.Is(err, ErrSelectionRequired) {
		t.Errorf("expected ErrSelectionRequired, got %v", err)
	}

	if s, err = m.Select("R7"); err != nil || !s.CanSubmit {
		t.Fatalf("Select: %v %+v", err, s)
	}
	s, err = m.Submit(ctx)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if s.State != StateSuccess || s.Redirect != "/home" {
		t.Errorf("unexpected final snapshot %+v", s)
	}
	if len(w.writes) != 1 || w.writes[0] != (write{"prov-1", "", "R7"}) {
		t.Errorf("expected create-path write of R7, got %+v", w.writes)
	}
	if len(c.committed) != 1 || c.committed[0] != "R7" {
		t.Errorf("expected R7 committed, got %v", c.committed)
	}
}

func TestClinicAndRoom_FallsBackToClinic(t *testing.T) {
	w := &fakeWriter{}
	m := newTestMachine(newFakeDirectory(), w, &fakeCommitter{}, Target{ProviderUUID: "prov-1"})
	ctx := context.Background()

	m.ChooseMode(ctx, SwitchClinicAndRoom)
	s, _ := m.SelectClinic(ctx, "C2")
	if !s.CanSubmit {
		t.Fatal("clinic alone is enough in clinic and room mode")
	}
	if _, err := m.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if w.writes[0].location != "C2" {
		t.Errorf("expected clinic C2 written, got %s", w.writes[0].location)
	}
}

func TestRoomMode_ListsSiblings(t *testing.T) {
	m := newTestMachine(newFakeDirectory(), &fakeWriter{}, &fakeCommitter{}, Target{ProviderUUID: "p", CurrentLocationUUID: "R1"})
	s, err := m.ChooseMode(context.Background(), SwitchRoom)
	if err != nil {
		t.Fatalf("ChooseMode: %v", err)
	}
	if !location.Contains(s.Choices.Rooms, "R2") {
		t.Errorf("expected sibling R2, got %+v", s.Choices.Rooms)
	}
	if _, err := m.SelectClinic(context.Background(), "C1"); !errors.Is(err, ErrInvalidSelection) {
		t.Errorf("room mode has no clinics, got %v", err)
	}
}

func TestSwitchingModeDiscardsSelection(t *testing.T) {
	w := &fakeWriter{}
	m := newTestMachine(newFakeDirectory(), w, &fakeCommitter{}, Target{ProviderUUID: "p", CurrentLocationUUID: "R1"})
	ctx := context.Background()

	m.ChooseMode(ctx, SwitchRoom)
	if _, err := m.Select("R2"); err != nil {
		t.Fatalf("Select room: %v", err)
	}

	s, _ := m.ChooseMode(ctx, SwitchWard)
	if s.Selection != (Selection{}) || len(s.Choices.Rooms) != 0 {
		t.Fatalf("expected selections cleared, got %+v", s)
	}
	if _, err := m.Submit(ctx); !errors.Is(err, ErrSelectionRequired) {
		t.Fatalf("stale room must not be submitted, got %v", err)
	}
	if _, err := m.Select("R2"); !errors.Is(err, ErrInvalidSelection) {
		t.Errorf("room is not a ward choice, got %v", err)
	}

	m.Select("W1")
	m.Submit(ctx)
	if len(w.writes) != 1 || w.writes[0].location != "W1" {
		t.Errorf("expected only ward W1 written, got %+v", w.writes)
	}
}

func TestDirectoryFailureShowsBanner(t *testing.T) {
	dir := newFakeDirectory()
	dir.err = errors.New("location directory fetch failed: 503")
	m := newTestMachine(dir, &fakeWriter{}, &fakeCommitter{}, Target{ProviderUUID: "p"})

	s, err := m.ChooseMode(context.Background(), SwitchWard)
	if err != nil {
		t.Fatalf("directory errors must not fail the transition, got %v", err)
	}
	if s.State != StateReady || s.Banner == "" {
		t.Errorf("expected Ready with banner, got %+v", s)
	}
	if s.CanSubmit || len(s.Choices.Wards) != 0 {
		t.Errorf("expected empty choices and disabled submit, got %+v", s)
	}

	// retry by choosing the mode again
	dir.mu.Lock()
	dir.err = nil
	dir.mu.Unlock()
	s, _ = m.ChooseMode(context.Background(), SwitchWard)
	if s.Banner != "" || len(s.Choices.Wards) != 1 {
		t.Errorf("expected recovered ward list, got %+v", s)
	}
}

func TestWriteFailureReturnsToReady(t *testing.T) {
	w := &fakeWriter{err: errors.New("default location attribute write failed: 400")}
	m := newTestMachine(newFakeDirectory(), w, &fakeCommitter{}, Target{ProviderUUID: "p"})
	ctx := context.Background()

	m.ChooseMode(ctx, SwitchWard)
	m.Select("W1")
	s, err := m.Submit(ctx)
	if err == nil {
		t.Fatal("expected write error")
	}
	if s.State != StateReady || s.Failure == "" || !s.CanSubmit {
		t.Errorf("expected Ready with failure and submit re-enabled, got %+v", s)
	}

	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()
	if s, err = m.Submit(ctx); err != nil || s.State != StateSuccess || s.Failure != "" {
		t.Errorf("expected retry to succeed, got %+v %v", s, err)
	}
}

func TestRepeatedSubmitUpdatesSameAttribute(t *testing.T) {
	w := &fakeWriter{}
	c := &fakeCommitter{err: errors.New("session location was not committed")}
	m := newTestMachine(newFakeDirectory(), w, c, Target{ProviderUUID: "p"})
	ctx := context.Background()

	m.ChooseMode(ctx, SwitchWard)
	m.Select("W1")
	if _, err := m.Submit(ctx); err == nil {
		t.Fatal("expected commit failure")
	}
	c.err = nil
	if _, err := m.Submit(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}

	if len(w.writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(w.writes))
	}
	if w.writes[0].existing != "" || w.writes[1].existing != "attr-new" {
		t.Errorf("second write must update the created attribute, got %+v", w.writes)
	}
}

func TestExistingAttributeUsesUpdatePath(t *testing.T) {
	w := &fakeWriter{}
	m := newTestMachine(newFakeDirectory(), w, &fakeCommitter{}, Target{ProviderUUID: "p", ExistingAttributeUUID: "attr-1"})
	ctx := context.Background()

	m.ChooseMode(ctx, SwitchWard)
	m.Select("W1")
	m.Submit(ctx)
	if len(w.writes) != 1 || w.writes[0].existing != "attr-1" {
		t.Errorf("expected update of attr-1, got %+v", w.writes)
	}
}

func TestSingleSubmissionInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &fakeWriter{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	m := newTestMachine(newFakeDirectory(), w, &fakeCommitter{}, Target{ProviderUUID: "p"})
	ctx := context.Background()
	m.ChooseMode(ctx, SwitchWard)
	m.Select("W1")

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(ctx)
		done <- err
	}()
	<-w.entered

	s := m.Snapshot()
	if s.State != StateSubmitting || s.CanSubmit {
		t.Errorf("expected Submitting with submit disabled, got %+v", s)
	}
	if _, err := m.Submit(ctx); !errors.Is(err, ErrSubmitInFlight) {
		t.Errorf("expected ErrSubmitInFlight, got %v", err)
	}
	if _, err := m.ChooseMode(ctx, SwitchRoom); !errors.Is(err, ErrSubmitInFlight) {
		t.Errorf("mode change during submit must be rejected, got %v", err)
	}

	close(w.block)
	if err := <-done; err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(w.writes) != 1 {
		t.Errorf("expected exactly one write, got %d", len(w.writes))
	}
	if _, err := m.Submit(ctx); !errors.Is(err, ErrCompleted) {
		t.Errorf("expected ErrCompleted after success, got %v", err)
	}
}

func TestResetRejectedWhileSubmitting(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &fakeWriter{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	m := newTestMachine(newFakeDirectory(), w, &fakeCommitter{}, Target{ProviderUUID: "p"})
	ctx := context.Background()
	m.ChooseMode(ctx, SwitchWard)
	m.Select("W1")

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(ctx)
		done <- err
	}()
	<-w.entered

	s, err := m.Reset()
	if !errors.Is(err, ErrSubmitInFlight) {
		t.Errorf("expected ErrSubmitInFlight from reset, got %v", err)
	}
	if s.State != StateSubmitting {
		t.Errorf("reset must leave the submission alone, got %s", s.State)
	}
	if _, err := m.ChooseMode(ctx, SwitchWard); !errors.Is(err, ErrSubmitInFlight) {
		t.Errorf("expected mode change to be rejected, got %v", err)
	}
	if _, err := m.Select("W1"); !errors.Is(err, ErrSubmitInFlight) {
		t.Errorf("expected selection to be rejected, got %v", err)
	}
	if _, err := m.Submit(ctx); !errors.Is(err, ErrSubmitInFlight) {
		t.Errorf("expected second submit to be rejected, got %v", err)
	}

	close(w.block)
	if err := <-done; err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(w.writes) != 1 {
		t.Errorf("expected exactly one write, got %d", len(w.writes))
	}

	// Once the write has landed a reset is allowed and a later submit
	// updates the attribute it created.
	if _, err := m.Reset(); err != nil {
		t.Fatalf("reset after success: %v", err)
	}
	m.ChooseMode(ctx, SwitchWard)
	m.Select("W1")
	if _, err := m.Submit(ctx); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if len(w.writes) != 2 || w.writes[1].existing == "" {
		t.Errorf("expected the second write to update, got %+v", w.writes)
	}
}

func TestStalePopulateIsDiscarded(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := newFakeDirectory()
	dir.block = make(chan struct{})
	dir.entered = make(chan struct{}, 4)
	m := newTestMachine(dir, &fakeWriter{}, &fakeCommitter{}, Target{ProviderUUID: "p"})
	ctx := context.Background()

	first := make(chan Snapshot, 1)
	go func() {
		s, _ := m.ChooseMode(ctx, SwitchClinic)
		first <- s
	}()
	<-dir.entered
	if s := m.Snapshot(); s.State != StatePopulating {
		t.Errorf("expected Populating, got %s", s.State)
	}

	second := make(chan Snapshot, 1)
	go func() {
		s, _ := m.ChooseMode(ctx, SwitchWard)
		second <- s
	}()
	<-dir.entered

	close(dir.block)
	<-first
	s := <-second
	if s.Mode != SwitchWard {
		t.Fatalf("expected ward mode, got %s", s.Mode)
	}
	final := m.Snapshot()
	if len(final.Choices.Clinics) != 0 || len(final.Choices.Wards) != 1 {
		t.Errorf("clinic list from the abandoned mode leaked in: %+v", final.Choices)
	}
}

func TestReset(t *testing.T) {
	m := newTestMachine(newFakeDirectory(), &fakeWriter{}, &fakeCommitter{}, Target{ProviderUUID: "p"})
	m.ChooseMode(context.Background(), SwitchWard)
	m.Select("W1")

	s, err := m.Reset()
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if s.State != StateIdle || s.Mode != "" || s.Selection != (Selection{}) {
		t.Errorf("expected idle machine, got %+v", s)
	}
}
