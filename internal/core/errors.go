// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers wrap them with fmt.Errorf("...: %w", err) and
// match with errors.Is.
var (
	// Queue errors
	ErrQueueClosed  = errors.New("packeteater: queue closed")
	ErrQueueFull    = errors.New("packeteater: queue full")
	ErrDrainTimeout = errors.New("packeteater: queue drain timed out")

	// Submission errors
	ErrUnexpectedStatus = errors.New("packeteater: unexpected response status")

	// Packet and record errors
	ErrPacketTooShort   = errors.New("packeteater: packet too short")
	ErrInvalidRecord    = errors.New("packeteater: invalid record")
	ErrInvalidDirection = errors.New("packeteater: invalid direction")
	ErrInvalidOrigin    = errors.New("packeteater: invalid origin")

	// Environment errors
	ErrModuleNotLoaded = errors.New("packeteater: module not loaded")

	// Collector errors
	ErrSinkUnavailable = errors.New("packeteater: sink unavailable")

	// Configuration errors
	ErrConfigInvalid = errors.New("packeteater: invalid configuration")
)
