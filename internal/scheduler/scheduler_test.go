package scheduler

import (
	"testing"
	"time"

	"github.com/voxlate/voxlate/pkg/logger"
)

func amplitudeConfig() Config {
	return Config{
		Policy:                PolicyAmplitude,
		SilenceThreshold:      0.02,
		PauseThreshold:        1500 * time.Millisecond,
		MaxBufferFrames:       300,
		MaxSubmissionInterval: 30 * time.Second,
		MinSpeechDuration:     500 * time.Millisecond,
		MinCommitFrames:       5,
	}
}

func semanticConfig() Config {
	cfg := amplitudeConfig()
	cfg.Policy = PolicySemantic
	return cfg
}

// feedFrames feeds count frames at the given level, 100ms apart.
func feedFrames(s *Scheduler, count int, level float64, start time.Time) time.Time {
	now := start
	for i := 0; i < count; i++ {
		s.OnFrame(level, now)
		now = now.Add(100 * time.Millisecond)
	}
	return now
}

func TestAmplitudePauseTrigger(t *testing.T) {
	s := New(amplitudeConfig(), logger.NewNop())
	start := time.Now()

	now := feedFrames(s, 10, 0.5, start)

	// Silence shorter than the pause threshold: no commit yet.
	if d := s.Tick(now.Add(time.Second)); d.Commit {
		t.Fatalf("unexpected commit before pause threshold: %+v", d)
	}

	d := s.Tick(now.Add(2 * time.Second))
	if !d.Commit {
		t.Fatal("expected commit after pause threshold")
	}
	if d.Reason != ReasonPause {
		t.Errorf("reason = %v, want %v", d.Reason, ReasonPause)
	}
	if d.Frames != 10 {
		t.Errorf("frames = %d, want 10", d.Frames)
	}
}

func TestAmplitudeOverflowTrigger(t *testing.T) {
	cfg := amplitudeConfig()
	cfg.MaxBufferFrames = 20
	s := New(cfg, logger.NewNop())

	now := feedFrames(s, 21, 0.5, time.Now())

	d := s.Tick(now)
	if !d.Commit || d.Reason != ReasonOverflow {
		t.Fatalf("expected overflow commit, got %+v", d)
	}
	if s.FrameCount() != 0 {
		t.Errorf("accumulator not reset after commit: %d frames", s.FrameCount())
	}
}

func TestAmplitudeSafetyNetGuaranteesProgress(t *testing.T) {
	s := New(amplitudeConfig(), logger.NewNop())
	start := time.Now()

	// Sub-threshold frames never stamp lastActive and never arm the
	// pause trigger; the safety net falls back to the accumulation
	// start so the segment still goes out eventually.
	feedFrames(s, 10, 0.001, start)

	if d := s.Tick(start.Add(10 * time.Second)); d.Commit {
		t.Fatalf("unexpected commit before the safety-net interval: %+v", d)
	}

	d := s.Tick(start.Add(31 * time.Second))
	if !d.Commit || d.Reason != ReasonSafetyNet {
		t.Fatalf("expected safety-net commit from accumulation start, got %+v", d)
	}
}

func TestAwaitingSuppressesTriggersUntilCleared(t *testing.T) {
	cfg := amplitudeConfig()
	cfg.MaxBufferFrames = 5
	s := New(cfg, logger.NewNop())
	start := time.Now()

	now := feedFrames(s, 6, 0.5, start)
	s.SetAwaiting(true)

	// Every trigger is live (overflow, pause, safety net), but the gate
	// holds them all.
	for i := 0; i < 10; i++ {
		if d := s.Tick(now.Add(time.Duration(i) * 10 * time.Second)); d.Commit {
			t.Fatalf("commit while awaiting on tick %d: %+v", i, d)
		}
	}

	s.SetAwaiting(false)
	d := s.Tick(now.Add(2 * time.Second))
	if !d.Commit {
		t.Fatal("expected commit after gate cleared")
	}
}

func TestTickEmptyAccumulatorNoCommit(t *testing.T) {
	s := New(amplitudeConfig(), logger.NewNop())
	if d := s.Tick(time.Now().Add(time.Hour)); d.Commit {
		t.Fatalf("commit with empty accumulator: %+v", d)
	}
}

func TestSemanticSpeechEndCommit(t *testing.T) {
	s := New(semanticConfig(), logger.NewNop())
	start := time.Now()

	s.OnSpeechStart(start)
	now := feedFrames(s, 10, 0.5, start)

	d := s.OnSpeechEnd(now)
	if !d.Commit || d.Reason != ReasonSpeechEnd {
		t.Fatalf("expected speech-end commit, got %+v", d)
	}
	if d.Frames != 10 {
		t.Errorf("frames = %d, want 10", d.Frames)
	}
}

func TestSemanticIgnoresFramesWhileIdle(t *testing.T) {
	s := New(semanticConfig(), logger.NewNop())

	feedFrames(s, 10, 0.5, time.Now())
	if s.FrameCount() != 0 {
		t.Errorf("idle frames accumulated: %d", s.FrameCount())
	}
}

func TestSemanticDropsSubMinimumDuration(t *testing.T) {
	s := New(semanticConfig(), logger.NewNop())
	start := time.Now()

	// 30ms of "speech": below the 500ms floor, dropped silently.
	s.OnSpeechStart(start)
	s.OnFrame(0.5, start.Add(10*time.Millisecond))
	d := s.OnSpeechEnd(start.Add(30 * time.Millisecond))

	if d.Commit {
		t.Fatalf("committed a sub-minimum segment: %+v", d)
	}
}

func TestSemanticDropsBelowFrameFloor(t *testing.T) {
	s := New(semanticConfig(), logger.NewNop())
	start := time.Now()

	// Long enough in wall time but only 3 frames accumulated.
	s.OnSpeechStart(start)
	s.OnFrame(0.5, start.Add(200*time.Millisecond))
	s.OnFrame(0.5, start.Add(400*time.Millisecond))
	s.OnFrame(0.5, start.Add(600*time.Millisecond))
	d := s.OnSpeechEnd(start.Add(700 * time.Millisecond))

	if d.Commit {
		t.Fatalf("committed below the frame floor: %+v", d)
	}
}

func TestSemanticAwaitingSuppressesSpeechEnd(t *testing.T) {
	s := New(semanticConfig(), logger.NewNop())
	start := time.Now()

	s.OnSpeechStart(start)
	now := feedFrames(s, 10, 0.5, start)
	s.SetAwaiting(true)

	if d := s.OnSpeechEnd(now); d.Commit {
		t.Fatalf("commit while awaiting: %+v", d)
	}
}

func TestSemanticOverflowCommitsEarlyAndStaysActive(t *testing.T) {
	cfg := semanticConfig()
	cfg.MaxBufferFrames = 20
	s := New(cfg, logger.NewNop())
	start := time.Now()

	s.OnSpeechStart(start)

	commits := 0
	now := start
	for i := 0; i < 30; i++ {
		now = now.Add(100 * time.Millisecond)
		if d := s.OnFrame(0.5, now); d.Commit {
			if d.Reason != ReasonOverflow {
				t.Errorf("reason = %v, want %v", d.Reason, ReasonOverflow)
			}
			commits++
		}
	}
	if commits != 1 {
		t.Fatalf("overflow commits = %d, want exactly 1", commits)
	}

	// The segment remains active; the remaining frames commit on
	// speech-end once the minimums pass again.
	now = feedFrames(s, 10, 0.5, now)
	d := s.OnSpeechEnd(now)
	if !d.Commit || d.Reason != ReasonSpeechEnd {
		t.Fatalf("expected trailing speech-end commit, got %+v", d)
	}
}

func TestFlushCommitsTrailingSegment(t *testing.T) {
	s := New(amplitudeConfig(), logger.NewNop())
	now := feedFrames(s, 10, 0.5, time.Now())

	d := s.Flush(now)
	if !d.Commit || d.Reason != ReasonFlush {
		t.Fatalf("expected flush commit, got %+v", d)
	}
}

func TestFlushDropsSubMinimumSemanticSegment(t *testing.T) {
	s := New(semanticConfig(), logger.NewNop())
	start := time.Now()

	s.OnSpeechStart(start)
	s.OnFrame(0.5, start.Add(50*time.Millisecond))

	if d := s.Flush(start.Add(100 * time.Millisecond)); d.Commit {
		t.Fatalf("flushed a sub-minimum segment: %+v", d)
	}
}

func TestFlushEmptyAccumulatorNoCommit(t *testing.T) {
	s := New(semanticConfig(), logger.NewNop())
	if d := s.Flush(time.Now()); d.Commit {
		t.Fatalf("flush committed with empty accumulator: %+v", d)
	}
}
