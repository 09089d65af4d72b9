// Package tui holds the terminal prompts of the interactive login command.
package tui

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
)

// Choice is one entry of a selection prompt.
type Choice struct {
	Label string
	Value string
}

// Prompter asks the operator for input. HuhPrompter is the terminal
// implementation.
type Prompter interface {
	Credentials() (username, password string, err error)
	Select(title string, choices []Choice) (string, error)
	Confirm(message string) (bool, error)
}

type HuhPrompter struct{}

func (HuhPrompter) Credentials() (string, string, error) {
	var username, password string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Username").
			Value(&username).
			Validate(required("username")),
		huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&password).
			Validate(required("password")),
	))
	if err := form.Run(); err != nil {
		return "", "", fmt.Errorf("prompt failed: %w", err)
	}
	return username, password, nil
}

func (HuhPrompter) Select(title string, choices []Choice) (string, error) {
	if len(choices) == 0 {
		return "", errors.New("no options provided")
	}
	opts := make([]huh.Option[string], len(choices))
	for i, c := range choices {
		opts[i] = huh.NewOption(c.Label, c.Value)
	}

	var selected string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(title).
			Options(opts...).
			Value(&selected),
	))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return selected, nil
}

func (HuhPrompter) Confirm(message string) (bool, error) {
	confirmed := true
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(message).
			Value(&confirmed),
	))
	if err := form.Run(); err != nil {
		return false, fmt.Errorf("prompt failed: %w", err)
	}
	return confirmed, nil
}

func required(field string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
