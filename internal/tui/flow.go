package tui

import (
	"context"
	"errors"
	"io"

	"github.com/ehr/ehrlogin/internal/domain/location"
	"github.com/ehr/ehrlogin/internal/domain/picker"
)

// ErrAborted is returned when the operator declines to continue.
var ErrAborted = errors.New("location selection aborted")

// Steps are the picker operations of one workflow. *login.Service
// implements them.
type Steps interface {
	ChooseMode(ctx context.Context, id string, mode picker.OptionID) (picker.Snapshot, error)
	SelectClinic(ctx context.Context, id, clinicUUID string) (picker.Snapshot, error)
	Select(id, locationUUID string) (picker.Snapshot, error)
	Submit(ctx context.Context, id string) (picker.Snapshot, error)
	Reset(id string) (picker.Snapshot, error)
}

const clinicOnly = ""

// RunPicker walks the operator through the picker of workflow id until a
// location is committed, and returns the redirect. Empty lists and failed
// submissions send the operator back to choosing a mode.
func RunPicker(ctx context.Context, p Prompter, steps Steps, id string, out io.Writer) (string, error) {
	for {
		redirect, err := pickOnce(ctx, p, steps, id, out)
		if err == nil {
			Success(out, "Location saved")
			return redirect, nil
		}
		if !errors.Is(err, errRetry) {
			return "", err
		}
		again, err := p.Confirm("Choose a location again?")
		if err != nil {
			return "", err
		}
		if !again {
			return "", ErrAborted
		}
		if _, err := steps.Reset(id); err != nil {
			return "", err
		}
	}
}

var errRetry = errors.New("retry")

func pickOnce(ctx context.Context, p Prompter, steps Steps, id string, out io.Writer) (string, error) {
	modeChoices := make([]Choice, 0, 4)
	for _, o := range picker.Options() {
		modeChoices = append(modeChoices, Choice{Label: o.Label, Value: string(o.ID)})
	}
	mode, err := p.Select("How do you want to set your location?", modeChoices)
	if err != nil {
		return "", err
	}

	snap, err := steps.ChooseMode(ctx, id, picker.OptionID(mode))
	if err != nil {
		return "", err
	}
	if snap.Banner != "" {
		Banner(out, snap.Banner)
	}

	switch picker.OptionID(mode) {
	case picker.SwitchClinic, picker.SwitchClinicAndRoom:
		if len(snap.Choices.Clinics) == 0 {
			Failure(out, "No clinics available")
			return "", errRetry
		}
		clinic, err := p.Select("Clinic", refChoices(snap.Choices.Clinics))
		if err != nil {
			return "", err
		}
		if snap, err = steps.SelectClinic(ctx, id, clinic); err != nil {
			return "", err
		}
		if snap.Banner != "" {
			Banner(out, snap.Banner)
		}

		rooms := refChoices(snap.Choices.Rooms)
		if picker.OptionID(mode) == picker.SwitchClinicAndRoom {
			rooms = append(rooms, Choice{Label: "Whole clinic", Value: clinicOnly})
		} else if len(rooms) == 0 {
			Failure(out, "No rooms available in this clinic")
			return "", errRetry
		}
		if err := pickAndSelect(p, steps, id, "Room", rooms); err != nil {
			return "", err
		}

	case picker.SwitchWard:
		if len(snap.Choices.Wards) == 0 {
			Failure(out, "No wards available")
			return "", errRetry
		}
		if err := pickAndSelect(p, steps, id, "Ward", refChoices(snap.Choices.Wards)); err != nil {
			return "", err
		}

	default:
		if len(snap.Choices.Rooms) == 0 {
			Failure(out, "No other rooms available")
			return "", errRetry
		}
		if err := pickAndSelect(p, steps, id, "Room", refChoices(snap.Choices.Rooms)); err != nil {
			return "", err
		}
	}

	snap, err = steps.Submit(ctx, id)
	if snap.State == picker.StateSuccess {
		return snap.Redirect, nil
	}
	if err != nil && snap.Failure == "" {
		return "", err
	}
	Failure(out, snap.Failure)
	return "", errRetry
}

func pickAndSelect(p Prompter, steps Steps, id, title string, choices []Choice) error {
	uuid, err := p.Select(title, choices)
	if err != nil {
		return err
	}
	if uuid == clinicOnly {
		return nil
	}
	_, err = steps.Select(id, uuid)
	return err
}

func refChoices(refs []location.Ref) []Choice {
	out := make([]Choice, len(refs))
	for i, r := range refs {
		label := r.Display
		if label == "" {
			label = r.UUID
		}
		out[i] = Choice{Label: label, Value: r.UUID}
	}
	return out
}
