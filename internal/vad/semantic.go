package vad

import (
	"fmt"
	"sync"
	"time"

	"github.com/voxlate/voxlate/pkg/logger"
)

// Semantic is the preferred detector: it relays speech boundaries from an
// AI recognizer collaborator. Events are asynchronous and may lag the
// audio by the recognizer's internal latency; duration floors are
// re-checked downstream by the submission policy for that reason.
type Semantic struct {
	recognizer Recognizer
	events     Events
	logger     *logger.Logger

	mu      sync.Mutex
	running bool
}

// NewSemantic creates a semantic detector around the given recognizer.
func NewSemantic(recognizer Recognizer, events Events, log *logger.Logger) *Semantic {
	return &Semantic{
		recognizer: recognizer,
		events:     events,
		logger:     log.Named("vad-semantic"),
	}
}

// Start starts the underlying recognizer.
func (s *Semantic) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := s.recognizer.Start(Events{
		OnSpeechStart: s.relayStart,
		OnSpeechEnd:   s.relayEnd,
	}); err != nil {
		return fmt.Errorf("failed to start recognizer: %w", err)
	}
	s.running = true
	return nil
}

// Stop stops the underlying recognizer.
func (s *Semantic) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.recognizer.Stop()
	s.running = false
}

func (s *Semantic) relayStart(at time.Time) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running && s.events.OnSpeechStart != nil {
		s.events.OnSpeechStart(at)
	}
}

func (s *Semantic) relayEnd(at time.Time) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running && s.events.OnSpeechEnd != nil {
		s.events.OnSpeechEnd(at)
	}
}

// Select picks the voice activity strategy at construction time: the
// semantic detector when a recognizer is available and permitted, the
// amplitude detector otherwise. The returned bool reports whether the
// semantic strategy was chosen.
func Select(recognizer Recognizer, ampConfig AmplitudeConfig, events Events, log *logger.Logger) (Signal, bool) {
	if recognizer != nil && recognizer.RequestPermission() {
		return NewSemantic(recognizer, events, log), true
	}
	if recognizer != nil {
		log.Named("vad").Warn("Recognizer permission denied, falling back to amplitude detection")
	}
	return NewAmplitude(ampConfig, events, log), false
}
