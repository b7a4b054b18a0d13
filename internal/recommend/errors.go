// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package recommend

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching. The typed errors below each match
// exactly one of these.
var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrUnknownEntity    = errors.New("unknown entity")
	ErrConfiguration    = errors.New("invalid configuration")
	ErrModelNotFitted   = errors.New("model not fitted")
)

// ErrDatasetNotLoaded is returned by serving calls that need case or donor
// records before the first dataset has been published.
var ErrDatasetNotLoaded = errors.New("dataset not loaded")

// ErrInvalidTransition is returned for a donation status change the payment
// lifecycle does not allow. Replaying it can never succeed.
var ErrInvalidTransition = errors.New("invalid transition")

// InsufficientDataError is returned when a component is asked to fit on too
// little data. It is recoverable: callers fall back to a non-personalized or
// conservative default.
type InsufficientDataError struct {
	Component string
	Reason    string
	Have      int
	Need      int
}

func (e *InsufficientDataError) Error() string {
	if e.Need > 0 {
		return fmt.Sprintf("%s: insufficient data: %s (have %d, need %d)", e.Component, e.Reason, e.Have, e.Need)
	}
	return fmt.Sprintf("%s: insufficient data: %s", e.Component, e.Reason)
}

// Is reports whether target is ErrInsufficientData.
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// EntityKind names the kind of record an UnknownEntityError refers to.
type EntityKind string

const (
	EntityCase  EntityKind = "case"
	EntityDonor EntityKind = "donor"
)

// UnknownEntityError reports an id that is absent from the current dataset.
type UnknownEntityError struct {
	Kind EntityKind
	ID   int
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown %s id %d", e.Kind, e.ID)
}

// Is reports whether target is ErrUnknownEntity.
func (e *UnknownEntityError) Is(target error) bool {
	return target == ErrUnknownEntity
}

// ConfigurationError is returned at load time for invalid configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ModelNotFittedError signals a caller ordering bug: a prediction was
// requested from a model that was never fitted.
type ModelNotFittedError struct {
	Component string
}

func (e *ModelNotFittedError) Error() string {
	return fmt.Sprintf("%s: model not fitted", e.Component)
}

// Is reports whether target is ErrModelNotFitted.
func (e *ModelNotFittedError) Is(target error) bool {
	return target == ErrModelNotFitted
}

// configErrorf builds a ConfigurationError with a formatted reason.
func configErrorf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
