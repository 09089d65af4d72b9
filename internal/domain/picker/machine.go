// Package picker is the interactive location selection workflow shown when a
// provider has no usable default location.
package picker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/ehrlogin/internal/domain/location"
)

var (
	ErrUnknownMode       = errors.New("unknown picker mode")
	ErrNoMode            = errors.New("no picker mode chosen")
	ErrInvalidSelection  = errors.New("location is not among the offered choices")
	ErrSelectionRequired = errors.New("a location must be selected")
	ErrNotReady          = errors.New("picker is still loading locations")
	ErrSubmitInFlight    = errors.New("a submission is already in progress")
	ErrCompleted         = errors.New("location already assigned")
)

type State string

const (
	StateIdle         State = "idle"
	StateOptionChosen State = "option_chosen"
	StatePopulating   State = "populating"
	StateReady        State = "ready"
	StateSubmitting   State = "submitting"
	StateSuccess      State = "success"
)

// Writer stores the chosen default location on the provider record and
// returns the attribute uuid. *provider.Service implements it.
type Writer interface {
	WriteDefaultLocation(ctx context.Context, providerUUID, existingAttributeUUID, locationUUID string) (string, error)
}

// Committer makes the location the active session location and returns the
// URL to navigate to. *session.Redirector implements it.
type Committer interface {
	CommitLocation(ctx context.Context, locationUUID string) (string, error)
}

// Config carries the well-known identifiers the modes browse from.
type Config struct {
	FacilityUUID      string
	ClinicTagUUID     string
	IPDDepartmentUUID string
}

// Target identifies whose default location is being chosen.
type Target struct {
	ProviderUUID          string
	ExistingAttributeUUID string
	// CurrentLocationUUID is the session location the room mode lists
	// siblings of.
	CurrentLocationUUID string
}

// Snapshot is a read-only view of the machine for rendering.
type Snapshot struct {
	State     State     `json:"state"`
	Mode      OptionID  `json:"mode,omitempty"`
	Options   []Option  `json:"options"`
	Choices   Choices   `json:"choices"`
	Selection Selection `json:"selection"`
	// CanSubmit is true in Ready with a complete selection.
	CanSubmit bool `json:"can_submit"`
	// Banner reports a directory failure; the form stays usable.
	Banner string `json:"banner,omitempty"`
	// Failure reports the last failed submission; a retry is allowed.
	Failure  string `json:"failure,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

// Machine drives one picker. All methods are safe for concurrent use;
// directory and write calls run without holding the lock, and results that
// belong to an abandoned mode or clinic are dropped.
type Machine struct {
	dir       Directory
	writer    Writer
	committer Committer
	cfg       Config
	logger    zerolog.Logger

	mu        sync.Mutex
	target    Target
	state     State
	mode      Mode
	gen       uint64
	roomGen   uint64
	choices   Choices
	selection Selection
	banner    string
	failure   string
	redirect  string
}

func NewMachine(dir Directory, writer Writer, committer Committer, cfg Config, target Target, logger zerolog.Logger) *Machine {
	return &Machine{
		dir:       dir,
		writer:    writer,
		committer: committer,
		cfg:       cfg,
		target:    target,
		logger:    logger,
		state:     StateIdle,
	}
}

func (m *Machine) newMode(id OptionID) (Mode, error) {
	switch id {
	case SwitchRoom:
		return roomMode{current: m.target.CurrentLocationUUID}, nil
	case SwitchClinic:
		return clinicMode{facility: m.cfg.FacilityUUID, clinicTag: m.cfg.ClinicTagUUID}, nil
	case SwitchClinicAndRoom:
		return clinicAndRoomMode{facility: m.cfg.FacilityUUID, clinicTag: m.cfg.ClinicTagUUID}, nil
	case SwitchWard:
		return wardMode{department: m.cfg.IPDDepartmentUUID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, id)
	}
}

// -- Transitions --

// ChooseMode enters a mode, discarding every selection and list of the
// previous one, and loads the mode's lists. A directory failure leaves the
// machine Ready with a banner and empty lists.
func (m *Machine) ChooseMode(ctx context.Context, id OptionID) (Snapshot, error) {
	mode, err := m.newMode(id)
	if err != nil {
		return m.Snapshot(), err
	}

	m.mu.Lock()
	if err := m.checkMutable(); err != nil {
		m.mu.Unlock()
		return m.Snapshot(), err
	}
	m.dir.CancelAll()
	m.gen++
	gen := m.gen
	m.mode = mode
	m.choices = Choices{}
	m.selection = Selection{}
	m.banner = ""
	m.failure = ""
	m.state = StateOptionChosen
	m.logger.Debug().Str("mode", string(id)).Msg("picker mode chosen")
	m.state = StatePopulating
	m.mu.Unlock()

	choices, err := mode.populate(ctx, m.dir)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || errors.Is(err, location.ErrSuperseded) {
		return m.snapshotLocked(), nil
	}
	if err != nil {
		m.banner = err.Error()
		m.logger.Warn().Err(err).Str("mode", string(id)).Msg("picker lists unavailable")
	}
	m.choices = choices
	m.state = StateReady
	return m.snapshotLocked(), nil
}

// SelectClinic picks a clinic in a clinic mode and loads its rooms. Any room
// chosen under a previous clinic is dropped.
func (m *Machine) SelectClinic(ctx context.Context, clinicUUID string) (Snapshot, error) {
	m.mu.Lock()
	if err := m.checkSelectable(); err != nil {
		m.mu.Unlock()
		return m.Snapshot(), err
	}
	if !m.mode.usesClinics() || !location.Contains(m.choices.Clinics, clinicUUID) {
		m.mu.Unlock()
		return m.Snapshot(), ErrInvalidSelection
	}
	gen := m.gen
	m.roomGen++
	roomGen := m.roomGen
	m.selection.Clinic = clinicUUID
	m.selection.Room = ""
	m.choices.Rooms = nil
	m.banner = ""
	m.state = StatePopulating
	m.mu.Unlock()

	clinic, err := m.dir.FetchChildren(ctx, location.SlotRooms, clinicUUID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || roomGen != m.roomGen || errors.Is(err, location.ErrSuperseded) {
		return m.snapshotLocked(), nil
	}
	if err != nil {
		m.banner = err.Error()
		m.logger.Warn().Err(err).Str("clinic", clinicUUID).Msg("clinic rooms unavailable")
	} else {
		m.choices.Rooms = clinic.Children()
	}
	m.state = StateReady
	return m.snapshotLocked(), nil
}

// Select picks the room, or the ward in ward mode.
func (m *Machine) Select(uuid string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkSelectable(); err != nil {
		return m.snapshotLocked(), err
	}
	if m.mode.ID() == SwitchWard {
		if !location.Contains(m.choices.Wards, uuid) {
			return m.snapshotLocked(), ErrInvalidSelection
		}
		m.selection.Ward = uuid
		return m.snapshotLocked(), nil
	}
	if !location.Contains(m.choices.Rooms, uuid) {
		return m.snapshotLocked(), ErrInvalidSelection
	}
	m.selection.Room = uuid
	return m.snapshotLocked(), nil
}

// Submit writes the selected location to the provider record and commits it
// to the session. Only one submission runs at a time. A failure returns the
// machine to Ready with the reason in Failure.
func (m *Machine) Submit(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	switch {
	case m.state == StateSubmitting:
		m.mu.Unlock()
		return m.Snapshot(), ErrSubmitInFlight
	case m.state == StateSuccess:
		m.mu.Unlock()
		return m.Snapshot(), ErrCompleted
	case m.mode == nil:
		m.mu.Unlock()
		return m.Snapshot(), ErrNoMode
	case m.state != StateReady:
		m.mu.Unlock()
		return m.Snapshot(), ErrNotReady
	}
	locationUUID := m.mode.target(m.selection)
	if locationUUID == "" {
		m.mu.Unlock()
		return m.Snapshot(), ErrSelectionRequired
	}
	target := m.target
	m.state = StateSubmitting
	m.failure = ""
	m.mu.Unlock()

	m.logger.Debug().Str("location", locationUUID).Msg("submitting default location")
	attributeUUID, err := m.writer.WriteDefaultLocation(ctx, target.ProviderUUID, target.ExistingAttributeUUID, locationUUID)
	if err != nil {
		return m.fail(err)
	}

	m.mu.Lock()
	// later submissions update this attribute instead of creating another
	m.target.ExistingAttributeUUID = attributeUUID
	m.mu.Unlock()

	url, err := m.committer.CommitLocation(ctx, locationUUID)
	if err != nil {
		return m.fail(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateSuccess
	m.redirect = url
	m.dir.CancelAll()
	return m.snapshotLocked(), nil
}

// Reset returns the machine to Idle, dropping every selection. It is
// rejected while a submission is in flight.
func (m *Machine) Reset() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateSubmitting {
		return m.snapshotLocked(), ErrSubmitInFlight
	}
	m.dir.CancelAll()
	m.gen++
	m.roomGen++
	m.mode = nil
	m.choices = Choices{}
	m.selection = Selection{}
	m.banner = ""
	m.failure = ""
	m.redirect = ""
	m.state = StateIdle
	return m.snapshotLocked(), nil
}

// Close abandons any in-flight directory fetch.
func (m *Machine) Close() {
	m.dir.CancelAll()
}

func (m *Machine) fail(err error) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateReady
	m.failure = err.Error()
	m.logger.Warn().Err(err).Msg("default location submission failed")
	return m.snapshotLocked(), err
}

// -- Guards --

func (m *Machine) checkMutable() error {
	switch m.state {
	case StateSubmitting:
		return ErrSubmitInFlight
	case StateSuccess:
		return ErrCompleted
	}
	return nil
}

func (m *Machine) checkSelectable() error {
	if err := m.checkMutable(); err != nil {
		return err
	}
	if m.mode == nil {
		return ErrNoMode
	}
	return nil
}

// -- Views --

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		State:     m.state,
		Options:   Options(),
		Choices:   copyChoices(m.choices),
		Selection: m.selection,
		Banner:    m.banner,
		Failure:   m.failure,
		Redirect:  m.redirect,
	}
	if m.mode != nil {
		s.Mode = m.mode.ID()
		s.CanSubmit = m.state == StateReady && m.mode.target(m.selection) != ""
	}
	return s
}

func copyChoices(c Choices) Choices {
	return Choices{
		Clinics: append([]location.Ref(nil), c.Clinics...),
		Rooms:   append([]location.Ref(nil), c.Rooms...),
		Wards:   append([]location.Ref(nil), c.Wards...),
	}
}
