// Package scheduler decides when the accumulated audio segment is
// committed for transcription/translation. It is a pure state machine:
// the session loop feeds it frames, voice activity boundaries and
// periodic ticks, and acts on the decisions it returns.
package scheduler

import (
	"time"

	"github.com/voxlate/voxlate/pkg/logger"
)

// Policy selects the submission heuristic. The two policies are mutually
// exclusive and fixed at construction.
type Policy int

const (
	// PolicyAmplitude is the frame-synchronous fallback: activity is
	// derived from the per-frame amplitude metric and commits fire from
	// the periodic check.
	PolicyAmplitude Policy = iota
	// PolicySemantic is the preferred policy: speech boundaries come from
	// the asynchronous semantic detector and commits fire on speech-end.
	PolicySemantic
)

// Reason identifies which trigger forced a commit.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonPause
	ReasonOverflow
	ReasonSafetyNet
	ReasonSpeechEnd
	ReasonFlush
)

func (r Reason) String() string {
	switch r {
	case ReasonPause:
		return "pause"
	case ReasonOverflow:
		return "overflow"
	case ReasonSafetyNet:
		return "safety_net"
	case ReasonSpeechEnd:
		return "speech_end"
	case ReasonFlush:
		return "flush"
	default:
		return "none"
	}
}

// Decision is the outcome of one scheduler evaluation.
type Decision struct {
	Commit bool
	Reason Reason
	Frames int
}

// Config contains the policy tuning; thresholds and floors are
// empirically chosen constants carried as configuration.
type Config struct {
	Policy                Policy
	SilenceThreshold      float64
	PauseThreshold        time.Duration
	MaxBufferFrames       int
	MaxSubmissionInterval time.Duration
	MinSpeechDuration     time.Duration
	MinCommitFrames       int
}

// Scheduler owns the audio segment accumulator. It must only be driven
// from one serialized control context.
type Scheduler struct {
	config Config
	logger *logger.Logger

	awaiting bool // back-pressure: one outstanding commit at a time

	frameCount  int
	accumStart  time.Time
	lastActive  time.Time
	active      bool
	speechStart time.Time
}

// New creates a scheduler.
func New(config Config, log *logger.Logger) *Scheduler {
	return &Scheduler{
		config: config,
		logger: log.Named("scheduler"),
	}
}

// SetAwaiting toggles the admission-control gate. While true, every
// trigger is suppressed; conditions are re-evaluated on the next trigger
// once cleared.
func (s *Scheduler) SetAwaiting(awaiting bool) {
	s.awaiting = awaiting
}

// Awaiting reports the admission-control gate.
func (s *Scheduler) Awaiting() bool {
	return s.awaiting
}

// FrameCount returns the number of accumulated frames.
func (s *Scheduler) FrameCount() int {
	return s.frameCount
}

// OnFrame records one captured frame. Under the amplitude policy the
// frame's level drives the activity flag; under the semantic policy
// frames accumulate only while a speech segment is in progress, and an
// oversized segment forces an early commit without waiting for
// speech-end.
func (s *Scheduler) OnFrame(level float64, now time.Time) Decision {
	switch s.config.Policy {
	case PolicyAmplitude:
		if s.frameCount == 0 {
			s.accumStart = now
		}
		s.frameCount++
		if level > s.config.SilenceThreshold {
			s.active = true
			s.lastActive = now
		}
		return Decision{}

	case PolicySemantic:
		if !s.active {
			return Decision{}
		}
		s.frameCount++
		s.lastActive = now
		if s.frameCount > s.config.MaxBufferFrames && !s.awaiting {
			// Bound latency on abnormally long utterances: commit early
			// and keep accumulating without returning to idle.
			frames := s.frameCount
			s.frameCount = 0
			s.accumStart = now
			s.speechStart = now
			s.logger.Debug("Early commit on oversized segment",
				logger.Int("frames", frames))
			return Decision{Commit: true, Reason: ReasonOverflow, Frames: frames}
		}
		return Decision{}
	}
	return Decision{}
}

// Tick evaluates the amplitude policy's periodic trigger conditions:
// pause after speech, buffer overflow, and the safety-net interval that
// guarantees forward progress. A no-op under the semantic policy.
func (s *Scheduler) Tick(now time.Time) Decision {
	if s.config.Policy != PolicyAmplitude {
		return Decision{}
	}
	if s.awaiting || s.frameCount == 0 {
		return Decision{}
	}

	if s.active && now.Sub(s.lastActive) > s.config.PauseThreshold {
		return s.commit(ReasonPause)
	}
	if s.frameCount > s.config.MaxBufferFrames {
		return s.commit(ReasonOverflow)
	}

	// The safety net keys off the last activity stamp; a segment that
	// never crossed the threshold falls back to its accumulation start so
	// progress is still guaranteed.
	reference := s.lastActive
	if reference.IsZero() {
		reference = s.accumStart
	}
	if now.Sub(reference) > s.config.MaxSubmissionInterval {
		return s.commit(ReasonSafetyNet)
	}

	return Decision{}
}

// OnSpeechStart begins a semantic-policy segment: the accumulator resets
// and the start time is stamped.
func (s *Scheduler) OnSpeechStart(now time.Time) {
	if s.config.Policy != PolicySemantic {
		return
	}
	s.active = true
	s.frameCount = 0
	s.accumStart = now
	s.speechStart = now
}

// OnSpeechEnd closes a semantic-policy segment. Segments below the
// minimum duration or the minimum frame floor are dropped silently:
// committing near-silence yields hallucinated remote responses. Both
// guards must pass before any commit.
func (s *Scheduler) OnSpeechEnd(now time.Time) Decision {
	if s.config.Policy != PolicySemantic || !s.active {
		return Decision{}
	}
	s.active = false

	duration := now.Sub(s.speechStart)
	if duration < s.config.MinSpeechDuration {
		s.logger.Debug("Dropping sub-minimum speech segment",
			logger.Duration("duration", duration),
			logger.Int("frames", s.frameCount))
		return Decision{}
	}
	if s.frameCount < s.config.MinCommitFrames {
		s.logger.Debug("Dropping near-empty speech segment",
			logger.Int("frames", s.frameCount),
			logger.Int("min_frames", s.config.MinCommitFrames))
		return Decision{}
	}
	if s.awaiting {
		s.logger.Debug("Commit suppressed while awaiting response",
			logger.Int("frames", s.frameCount))
		return Decision{}
	}

	return s.commit(ReasonSpeechEnd)
}

// Flush forces one trailing commit during the stop protocol, subject to
// the same minimum checks: a sub-minimum trailing segment is dropped, not
// committed.
func (s *Scheduler) Flush(now time.Time) Decision {
	if s.awaiting || s.frameCount == 0 {
		return Decision{}
	}

	if s.config.Policy == PolicySemantic {
		if !s.active {
			return Decision{}
		}
		s.active = false
		if now.Sub(s.speechStart) < s.config.MinSpeechDuration ||
			s.frameCount < s.config.MinCommitFrames {
			s.logger.Debug("Dropping sub-minimum trailing segment",
				logger.Int("frames", s.frameCount))
			return Decision{}
		}
	}

	return s.commit(ReasonFlush)
}

// Reset clears the accumulator and activity state entirely.
func (s *Scheduler) Reset() {
	s.frameCount = 0
	s.accumStart = time.Time{}
	s.lastActive = time.Time{}
	s.active = false
	s.speechStart = time.Time{}
}

// commit empties the accumulator and returns the commit decision. The
// accumulator resets immediately after every commit.
func (s *Scheduler) commit(reason Reason) Decision {
	frames := s.frameCount
	s.frameCount = 0
	s.accumStart = time.Time{}
	s.lastActive = time.Time{}
	s.active = false

	s.logger.Debug("Commit",
		logger.String("reason", reason.String()),
		logger.Int("frames", frames))

	return Decision{Commit: true, Reason: reason, Frames: frames}
}
