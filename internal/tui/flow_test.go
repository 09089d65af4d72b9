package tui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ehr/ehrlogin/internal/domain/location"
	"github.com/ehr/ehrlogin/internal/domain/picker"
)

type scriptedPrompter struct {
	answers  []string
	confirms []bool
	titles   []string
}

func (p *scriptedPrompter) Credentials() (string, string, error) {
	return "nurse1", "secret", nil
}

func (p *scriptedPrompter) Select(title string, choices []Choice) (string, error) {
	p.titles = append(p.titles, title)
	if len(p.answers) == 0 {
		return "", errors.New("unexpected prompt " + title)
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func (p *scriptedPrompter) Confirm(string) (bool, error) {
	if len(p.confirms) == 0 {
		return false, errors.New("unexpected confirm")
	}
	c := p.confirms[0]
	p.confirms = p.confirms[1:]
	return c, nil
}

type fakeSteps struct {
	modeSnaps  []picker.Snapshot
	clinicSnap picker.Snapshot
	submits    []picker.Snapshot
	submitErrs []error

	selected []string
	resets   int
}

func (f *fakeSteps) ChooseMode(_ context.Context, _ string, mode picker.OptionID) (picker.Snapshot, error) {
	s := f.modeSnaps[0]
	if len(f.modeSnaps) > 1 {
		f.modeSnaps = f.modeSnaps[1:]
	}
	s.Mode = mode
	return s, nil
}

func (f *fakeSteps) SelectClinic(context.Context, string, string) (picker.Snapshot, error) {
	return f.clinicSnap, nil
}

func (f *fakeSteps) Select(_ string, uuid string) (picker.Snapshot, error) {
	f.selected = append(f.selected, uuid)
	return picker.Snapshot{}, nil
}

func (f *fakeSteps) Submit(context.Context, string) (picker.Snapshot, error) {
	s, err := f.submits[0], f.submitErrs[0]
	f.submits, f.submitErrs = f.submits[1:], f.submitErrs[1:]
	return s, err
}

func (f *fakeSteps) Reset(string) (picker.Snapshot, error) {
	f.resets++
	return picker.Snapshot{State: picker.StateIdle}, nil
}

var wards = picker.Snapshot{
	State:   picker.StateReady,
	Choices: picker.Choices{Wards: []location.Ref{{UUID: "W1", Display: "Ward 1"}, {UUID: "W2", Display: "Ward 2"}}},
}

var success = picker.Snapshot{State: picker.StateSuccess, Redirect: "/home"}

func TestRunPicker_Ward(t *testing.T) {
	p := &scriptedPrompter{answers: []string{string(picker.SwitchWard), "W2"}}
	steps := &fakeSteps{
		modeSnaps:  []picker.Snapshot{wards},
		submits:    []picker.Snapshot{success},
		submitErrs: []error{nil},
	}
	var out bytes.Buffer

	redirect, err := RunPicker(context.Background(), p, steps, "wf-1", &out)
	if err != nil {
		t.Fatalf("RunPicker: %v", err)
	}
	if redirect != "/home" {
		t.Errorf("expected /home, got %q", redirect)
	}
	if len(steps.selected) != 1 || steps.selected[0] != "W2" {
		t.Errorf("expected W2 selected, got %v", steps.selected)
	}
}

func TestRunPicker_WholeClinic(t *testing.T) {
	p := &scriptedPrompter{answers: []string{string(picker.SwitchClinicAndRoom), "C1", clinicOnly}}
	steps := &fakeSteps{
		modeSnaps: []picker.Snapshot{{
			State:   picker.StateReady,
			Choices: picker.Choices{Clinics: []location.Ref{{UUID: "C1", Display: "Clinic 1"}}},
		}},
		clinicSnap: picker.Snapshot{State: picker.StateReady},
		submits:    []picker.Snapshot{success},
		submitErrs: []error{nil},
	}

	if _, err := RunPicker(context.Background(), p, steps, "wf-1", &bytes.Buffer{}); err != nil {
		t.Fatalf("RunPicker: %v", err)
	}
	if len(steps.selected) != 0 {
		t.Errorf("expected no room selection, got %v", steps.selected)
	}
}

func TestRunPicker_FailureThenAbort(t *testing.T) {
	p := &scriptedPrompter{
		answers:  []string{string(picker.SwitchWard), "W1"},
		confirms: []bool{false},
	}
	steps := &fakeSteps{
		modeSnaps:  []picker.Snapshot{wards},
		submits:    []picker.Snapshot{{State: picker.StateReady, Failure: "write rejected"}},
		submitErrs: []error{errors.New("write rejected")},
	}
	var out bytes.Buffer

	_, err := RunPicker(context.Background(), p, steps, "wf-1", &out)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if !strings.Contains(out.String(), "write rejected") {
		t.Errorf("expected failure in output, got %q", out.String())
	}
}

func TestRunPicker_EmptyListRetries(t *testing.T) {
	p := &scriptedPrompter{
		answers:  []string{string(picker.SwitchWard), string(picker.SwitchWard), "W1"},
		confirms: []bool{true},
	}
	steps := &fakeSteps{
		modeSnaps:  []picker.Snapshot{{State: picker.StateReady, Banner: "directory unavailable"}, wards},
		submits:    []picker.Snapshot{success},
		submitErrs: []error{nil},
	}
	var out bytes.Buffer

	redirect, err := RunPicker(context.Background(), p, steps, "wf-1", &out)
	if err != nil || redirect != "/home" {
		t.Fatalf("expected success after retry, got %q %v", redirect, err)
	}
	if steps.resets != 1 {
		t.Errorf("expected one reset, got %d", steps.resets)
	}
	if !strings.Contains(out.String(), "directory unavailable") {
		t.Error("expected the banner to be shown")
	}
}

func TestRunPicker_GuardErrorReturned(t *testing.T) {
	p := &scriptedPrompter{answers: []string{string(picker.SwitchWard), "W1"}}
	steps := &fakeSteps{
		modeSnaps:  []picker.Snapshot{wards},
		submits:    []picker.Snapshot{{State: picker.StateSubmitting}},
		submitErrs: []error{picker.ErrSubmitInFlight},
	}

	if _, err := RunPicker(context.Background(), p, steps, "wf-1", &bytes.Buffer{}); !errors.Is(err, picker.ErrSubmitInFlight) {
		t.Errorf("expected ErrSubmitInFlight, got %v", err)
	}
}
