package core

import "errors"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is returned when a case status would move backwards
	ErrInvalidTransition = errors.New("invalid case status transition")
	// ErrDuplicateAnalysis is returned when a stage already has an analysis for a case
	ErrDuplicateAnalysis = errors.New("analysis already recorded for stage")
)
