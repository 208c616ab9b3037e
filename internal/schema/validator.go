// Package schema validates outbound turn events before publishing.
package schema

import (
	"errors"

	"voice-qa-gateway/internal/models"
)

var (
	ErrMissingTurnID    = errors.New("event missing turnId")
	ErrMissingUtterance = errors.New("event missing utterance")
)

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks required fields on known event types. Unknown payloads
// pass through; full JSON Schema validation can plug in here later.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.TurnQuestion:
		if ev.TurnID == "" {
			return ErrMissingTurnID
		}
		if ev.Utterance == "" {
			return ErrMissingUtterance
		}
	case models.TurnAnswer:
		if ev.TurnID == "" {
			return ErrMissingTurnID
		}
		if ev.Utterance == "" {
			return ErrMissingUtterance
		}
	}
	return nil
}
