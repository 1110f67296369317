// Package dialog provides interactive credential entry on the controlling
// terminal, used when no password is found in the environment or keyring.
package dialog

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
)

// AskPassword prompts for the SSH password for dest with echo masked.
func AskPassword(dest string) (string, error) {
	var password string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("SSH password for %s", dest)).
				EchoMode(huh.EchoModePassword).
				Value(&password),
		),
	)

	if err := form.Run(); err != nil {
		return "", fmt.Errorf("password entry: %w", err)
	}
	if password == "" {
		return "", errors.New("password entry cancelled or empty")
	}
	return password, nil
}

// Confirm asks a yes/no question, defaulting to no.
func Confirm(question string) (bool, error) {
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().Title(question).Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		return false, err
	}
	return ok, nil
}
