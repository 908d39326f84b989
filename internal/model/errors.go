package model

import (
	"errors"
	"fmt"
)

// Level is the observability severity attached to a business rule failure.
// Lower is more severe.
type Level int

const (
	LevelError Level = 0
	LevelWarn  Level = 1
	LevelInfo  Level = 2
	LevelDebug Level = 5
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	}
	return "debug"
}

// BusinessRuleError reports a transition whose precondition was false.
// Message is safe to show to the caller.
type BusinessRuleError struct {
	Status  int
	Message string
	Level   Level
}

// NewRuleError builds a BusinessRuleError. A zero status means 400.
func NewRuleError(status int, level Level, message string) *BusinessRuleError {
	if status == 0 {
		status = 400
	}
	return &BusinessRuleError{Status: status, Message: message, Level: level}
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule (%d): %s", e.Status, e.Message)
}

// AsRuleError extracts a BusinessRuleError from err's chain.
func AsRuleError(err error) (*BusinessRuleError, bool) {
	var re *BusinessRuleError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
