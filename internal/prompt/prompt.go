// Package prompt asks the user for input. Commands and the URL replacer take
// a Prompter so they can run unattended (--yes) and under test.
package prompt

import (
	"errors"
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/mattn/go-isatty"
)

// ErrAborted is returned when the user interrupts a prompt or declines a
// confirmation that guards a destructive step.
var ErrAborted = errors.New("aborted by user")

// Prompter asks questions.
type Prompter interface {
	Input(message, def string) (string, error)
	Password(message string) (string, error)
	Confirm(message string, def bool) (bool, error)
	Select(message string, options []string, def string) (string, error)
}

// New returns AssumeYes when assumeYes is set, NonInteractive when stdin is
// not a terminal and a survey-backed Prompter otherwise.
func New(assumeYes bool) Prompter {
	return choose(assumeYes, isatty.IsTerminal(os.Stdin.Fd()))
}

func choose(assumeYes, tty bool) Prompter {
	switch {
	case assumeYes:
		return AssumeYes{}
	case !tty:
		return NonInteractive{}
	default:
		return Survey{}
	}
}

// Survey prompts on the terminal.
type Survey struct{}

func (Survey) Input(message, def string) (string, error) {
	var answer string
	err := survey.AskOne(&survey.Input{Message: message, Default: def}, &answer)
	return answer, wrap(err)
}

func (Survey) Password(message string) (string, error) {
	var answer string
	err := survey.AskOne(&survey.Password{Message: message}, &answer)
	return answer, wrap(err)
}

func (Survey) Confirm(message string, def bool) (bool, error) {
	answer := def
	err := survey.AskOne(&survey.Confirm{Message: message, Default: def}, &answer)
	return answer, wrap(err)
}

func (Survey) Select(message string, options []string, def string) (string, error) {
	var answer string
	p := &survey.Select{
		Message:  message,
		Options:  options,
		PageSize: 15,
	}
	if def != "" {
		p.Default = def
	}
	err := survey.AskOne(p, &answer)
	return answer, wrap(err)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, terminal.InterruptErr) {
		return ErrAborted
	}
	return fmt.Errorf("prompt failed: %w", err)
}

// AssumeYes answers every question with its default and accepts every
// confirmation. It backs --yes.
type AssumeYes struct{}

func (AssumeYes) Input(_, def string) (string, error) { return def, nil }

func (AssumeYes) Password(message string) (string, error) {
	return "", fmt.Errorf("cannot prompt for %q without a terminal", message)
}

func (AssumeYes) Confirm(string, bool) (bool, error) { return true, nil }

func (AssumeYes) Select(_ string, options []string, def string) (string, error) {
	if def != "" {
		return def, nil
	}
	if len(options) == 0 {
		return "", fmt.Errorf("no options to select from")
	}
	return options[0], nil
}

// NonInteractive answers with defaults when there is no terminal to ask on.
// A confirmation that defaults to no is refused with a hint to pass --yes.
type NonInteractive struct{ AssumeYes }

func (NonInteractive) Confirm(message string, def bool) (bool, error) {
	if !def {
		return false, fmt.Errorf("%w: %q needs confirmation and stdin is not a terminal (pass --yes)", ErrAborted, message)
	}
	return def, nil
}

// Scripted answers from a map keyed by prompt message and falls back to the
// default. It records every message it was asked.
type Scripted struct {
	Answers  map[string]string
	Confirms map[string]bool
	Asked    []string
}

func (s *Scripted) Input(message, def string) (string, error) {
	s.Asked = append(s.Asked, message)
	if a, ok := s.Answers[message]; ok {
		return a, nil
	}
	return def, nil
}

func (s *Scripted) Password(message string) (string, error) {
	s.Asked = append(s.Asked, message)
	return s.Answers[message], nil
}

func (s *Scripted) Confirm(message string, def bool) (bool, error) {
	s.Asked = append(s.Asked, message)
	if c, ok := s.Confirms[message]; ok {
		return c, nil
	}
	return def, nil
}

func (s *Scripted) Select(message string, options []string, def string) (string, error) {
	s.Asked = append(s.Asked, message)
	if a, ok := s.Answers[message]; ok {
		return a, nil
	}
	return AssumeYes{}.Select(message, options, def)
}

// ConfirmOrAbort asks for confirmation and returns ErrAborted when declined.
func ConfirmOrAbort(p Prompter, message string) error {
	ok, err := p.Confirm(message, false)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAborted
	}
	return nil
}
