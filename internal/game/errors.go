package game

import (
	"errors"

	"prompt-master/internal/judge"
	"prompt-master/internal/store"
)

type ErrorKind int

const (
	KindInput ErrorKind = iota
	KindForbidden
	KindPhase
)

// ValidationError rejects an action before anything is written.
type ValidationError struct {
	Kind    ErrorKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func badInput(msg string) error {
	return &ValidationError{Kind: KindInput, Message: msg}
}

func forbidden(msg string) error {
	return &ValidationError{Kind: KindForbidden, Message: msg}
}

func wrongPhase(msg string) error {
	return &ValidationError{Kind: KindPhase, Message: msg}
}

var (
	ErrNotFound         = store.ErrNotFound
	ErrConflict         = errors.New("game state changed concurrently")
	ErrGenerationFailed = errors.New("image generation failed")
	ErrJudgeUnavailable = judge.ErrUnavailable
)

// AsValidation unwraps err into a *ValidationError when it is one.
func AsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
