package picker

import (
	"context"

	"github.com/ehr/ehrlogin/internal/domain/location"
)

// OptionID names a picker mode.
type OptionID string

const (
	SwitchRoom          OptionID = "switchRoom"
	SwitchClinic        OptionID = "switchClinic"
	SwitchWard          OptionID = "switchWard"
	SwitchClinicAndRoom OptionID = "switchClinicAndRoom"
)

// Option is one entry of the static mode menu.
type Option struct {
	ID    OptionID `json:"id"`
	Label string   `json:"label"`
}

var options = []Option{
	{ID: SwitchRoom, Label: "Switch room"},
	{ID: SwitchClinic, Label: "Switch only clinic"},
	{ID: SwitchWard, Label: "Switch ward"},
	{ID: SwitchClinicAndRoom, Label: "Switch clinic and room"},
}

// Options returns the mode menu in display order.
func Options() []Option {
	out := make([]Option, len(options))
	copy(out, options)
	return out
}

// Directory is the location reader the machine populates choices from.
// *location.Accessor implements it.
type Directory interface {
	FetchChildren(ctx context.Context, slot location.Slot, uuid string) (*location.Location, error)
	FetchSiblings(ctx context.Context, slot location.Slot, uuid string) (*location.Location, error)
	FetchByTag(ctx context.Context, slot location.Slot, tagUUID, parentUUID string) ([]location.Ref, error)
	CancelAll()
}

// Choices are the lists offered in the current mode.
type Choices struct {
	Clinics []location.Ref `json:"clinics,omitempty"`
	Rooms   []location.Ref `json:"rooms,omitempty"`
	Wards   []location.Ref `json:"wards,omitempty"`
}

// Selection is what the user picked under the current mode.
type Selection struct {
	Clinic string `json:"clinic,omitempty"`
	Room   string `json:"room,omitempty"`
	Ward   string `json:"ward,omitempty"`
}

// Mode is the tagged variant behind each OptionID. Each variant carries the
// identifiers it browses from and decides which location a selection
// resolves to.
type Mode interface {
	ID() OptionID
	// populate fetches the lists shown when the mode is entered.
	populate(ctx context.Context, dir Directory) (Choices, error)
	// usesClinics reports whether a clinic must be chosen before rooms load.
	usesClinics() bool
	// target returns the location to write, or "" when the selection is
	// incomplete.
	target(sel Selection) string
}

// roomMode lists the rooms next to the current session location.
type roomMode struct {
	current string
}

func (roomMode) ID() OptionID { return SwitchRoom }

func (m roomMode) populate(ctx context.Context, dir Directory) (Choices, error) {
	parent, err := dir.FetchSiblings(ctx, location.SlotRooms, m.current)
	if err != nil {
		return Choices{}, err
	}
	return Choices{Rooms: parent.Children()}, nil
}

func (roomMode) usesClinics() bool { return false }

func (roomMode) target(sel Selection) string { return sel.Room }

// clinicMode lists the facility's clinics, then the chosen clinic's rooms.
// A room is required.
type clinicMode struct {
	facility  string
	clinicTag string
}

func (clinicMode) ID() OptionID { return SwitchClinic }

func (m clinicMode) populate(ctx context.Context, dir Directory) (Choices, error) {
	return populateClinics(ctx, dir, m.clinicTag, m.facility)
}

func (clinicMode) usesClinics() bool { return true }

func (clinicMode) target(sel Selection) string {
	if sel.Clinic == "" {
		return ""
	}
	return sel.Room
}

// clinicAndRoomMode is clinicMode where the clinic itself is accepted when
// no room is chosen.
type clinicAndRoomMode struct {
	facility  string
	clinicTag string
}

func (clinicAndRoomMode) ID() OptionID { return SwitchClinicAndRoom }

func (m clinicAndRoomMode) populate(ctx context.Context, dir Directory) (Choices, error) {
	return populateClinics(ctx, dir, m.clinicTag, m.facility)
}

func (clinicAndRoomMode) usesClinics() bool { return true }

func (clinicAndRoomMode) target(sel Selection) string {
	if sel.Room != "" {
		return sel.Room
	}
	return sel.Clinic
}

// wardMode lists the wards of the inpatient department.
type wardMode struct {
	department string
}

func (wardMode) ID() OptionID { return SwitchWard }

func (m wardMode) populate(ctx context.Context, dir Directory) (Choices, error) {
	dept, err := dir.FetchChildren(ctx, location.SlotWards, m.department)
	if err != nil {
		return Choices{}, err
	}
	return Choices{Wards: dept.Children()}, nil
}

func (wardMode) usesClinics() bool { return false }

func (wardMode) target(sel Selection) string { return sel.Ward }

func populateClinics(ctx context.Context, dir Directory, tag, facility string) (Choices, error) {
	clinics, err := dir.FetchByTag(ctx, location.SlotClinics, tag, facility)
	if err != nil {
		return Choices{}, err
	}
	return Choices{Clinics: clinics}, nil
}
