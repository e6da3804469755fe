// Package vad provides voice activity signals: discrete speech-start and
// speech-end events derived from captured audio. Two interchangeable
// implementations exist: a frame-synchronous amplitude detector and an
// asynchronous semantic detector backed by a recognizer collaborator.
package vad

import "time"

// Events carries the callbacks a signal fires on speech boundaries.
// Callbacks run on the signal's own execution context; consumers must
// hand off into their serialized control context.
type Events struct {
	OnSpeechStart func(at time.Time)
	OnSpeechEnd   func(at time.Time)
}

// Signal is the common voice activity source interface. Only one signal
// is active at a time.
type Signal interface {
	Start() error
	Stop()
}

// Recognizer is the semantic speech engine collaborator. The engine
// itself (model execution) is external; the core consumes only its
// boundary events and permission gate.
type Recognizer interface {
	// RequestPermission reports whether the recognizer may run. Denial is
	// not an error: the caller falls back to the amplitude strategy.
	RequestPermission() bool
	// Start begins recognition; boundary events are delivered to the
	// given callbacks until Stop. Events may lag the audio by the
	// recognizer's internal latency.
	Start(events Events) error
	Stop()
}
