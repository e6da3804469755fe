package vad

import (
	"sync"
	"time"

	"github.com/voxlate/voxlate/pkg/logger"
)

// AmplitudeConfig contains tuning for the amplitude-threshold detector.
type AmplitudeConfig struct {
	// SilenceThreshold is the normalized RMS level separating speech from
	// silence.
	SilenceThreshold float64
	// StartFrames is the number of consecutive above-threshold frames
	// required to fire speech-start (debounce against clicks).
	StartFrames int
	// EndFrames is the number of consecutive below-threshold frames
	// required to fire speech-end.
	EndFrames int
	// MinSpeechDuration filters noise: an active stretch shorter than
	// this ends silently, with no speech-end event.
	MinSpeechDuration time.Duration
}

// Amplitude is the frame-synchronous fallback detector. Feed is called
// once per captured frame with its amplitude metric; hysteresis on both
// edges avoids flickering between states.
type Amplitude struct {
	config AmplitudeConfig
	events Events
	logger *logger.Logger

	mu          sync.Mutex
	running     bool
	inSpeech    bool
	speechSince time.Time
	aboveCount  int
	belowCount  int
}

// NewAmplitude creates an amplitude-threshold detector.
func NewAmplitude(config AmplitudeConfig, events Events, log *logger.Logger) *Amplitude {
	if config.StartFrames <= 0 {
		config.StartFrames = 1
	}
	if config.EndFrames <= 0 {
		config.EndFrames = 3
	}

	return &Amplitude{
		config: config,
		events: events,
		logger: log.Named("vad-amplitude"),
	}
}

// Start arms the detector.
func (a *Amplitude) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = true
	a.reset()
	return nil
}

// Stop disarms the detector and discards any in-progress segment.
func (a *Amplitude) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	a.reset()
}

func (a *Amplitude) reset() {
	a.inSpeech = false
	a.aboveCount = 0
	a.belowCount = 0
}

// Feed evaluates one frame's amplitude. Boundary callbacks fire inline.
func (a *Amplitude) Feed(level float64, now time.Time) {
	a.mu.Lock()

	if !a.running {
		a.mu.Unlock()
		return
	}

	var fireStart, fireEnd bool

	if a.inSpeech {
		if level < a.config.SilenceThreshold {
			a.belowCount++
			if a.belowCount >= a.config.EndFrames {
				a.inSpeech = false
				a.belowCount = 0
				// Sub-minimum stretches are noise: end silently
				if now.Sub(a.speechSince) >= a.config.MinSpeechDuration {
					fireEnd = true
				} else {
					a.logger.Debug("Discarding short speech burst",
						logger.Duration("duration", now.Sub(a.speechSince)))
				}
			}
		} else {
			a.belowCount = 0
		}
	} else {
		if level >= a.config.SilenceThreshold {
			a.aboveCount++
			if a.aboveCount >= a.config.StartFrames {
				a.inSpeech = true
				a.aboveCount = 0
				a.speechSince = now
				fireStart = true
			}
		} else {
			a.aboveCount = 0
		}
	}

	a.mu.Unlock()

	if fireStart && a.events.OnSpeechStart != nil {
		a.events.OnSpeechStart(now)
	}
	if fireEnd && a.events.OnSpeechEnd != nil {
		a.events.OnSpeechEnd(now)
	}
}
