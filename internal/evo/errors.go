package evo

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrInvalidConfig   = errors.New("invalid config")
	ErrEmptyPopulation = errors.New("empty population")
)

type FieldError struct {
	Field  string
	Reason string
}

// InvalidConfigError lists every offending configuration field.
type InvalidConfigError struct {
	Fields []FieldError
}

func (e *InvalidConfigError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

func (e *InvalidConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// EmptyPopulationError is fatal for a run: selection cannot fill the next
// seed population.
type EmptyPopulationError struct {
	Cycle int
	Want  int
	Have  int
}

func (e *EmptyPopulationError) Error() string {
	if e.Want > 0 {
		return fmt.Sprintf("cycle %d: top-n %d exceeds %d available candidates", e.Cycle+1, e.Want, e.Have)
	}
	return fmt.Sprintf("cycle %d: seed population is empty", e.Cycle+1)
}

func (e *EmptyPopulationError) Unwrap() error {
	return ErrEmptyPopulation
}

// CycleError carries the cycle index of an aborted run.
type CycleError struct {
	Cycle int
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("aborted at cycle %d: %v", e.Cycle+1, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

type configValidator struct {
	fields []FieldError
}

func (v *configValidator) fail(field, reason string) {
	v.fields = append(v.fields, FieldError{Field: field, Reason: reason})
}

func (v *configValidator) unit(field string, value float64) {
	if math.IsNaN(value) || value < 0 || value > 1 {
		v.fail(field, fmt.Sprintf("must be in [0, 1], got %v", value))
	}
}

func (v *configValidator) positive(field string, value int) {
	if value <= 0 {
		v.fail(field, fmt.Sprintf("must be > 0, got %d", value))
	}
}

func (v *configValidator) merge(err error) {
	var invalid *InvalidConfigError
	if errors.As(err, &invalid) {
		v.fields = append(v.fields, invalid.Fields...)
	}
}

func (v *configValidator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &InvalidConfigError{Fields: append([]FieldError(nil), v.fields...)}
}
