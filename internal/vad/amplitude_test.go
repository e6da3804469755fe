package vad

import (
	"testing"
	"time"

	"github.com/voxlate/voxlate/pkg/logger"
)

type eventLog struct {
	starts []time.Time
	ends   []time.Time
}

func (e *eventLog) events() Events {
	return Events{
		OnSpeechStart: func(at time.Time) { e.starts = append(e.starts, at) },
		OnSpeechEnd:   func(at time.Time) { e.ends = append(e.ends, at) },
	}
}

func testConfig() AmplitudeConfig {
	return AmplitudeConfig{
		SilenceThreshold:  0.02,
		StartFrames:       2,
		EndFrames:         3,
		MinSpeechDuration: 500 * time.Millisecond,
	}
}

// feed pushes count frames at the given level, 100ms apart.
func feed(a *Amplitude, count int, level float64, start time.Time) time.Time {
	now := start
	for i := 0; i < count; i++ {
		a.Feed(level, now)
		now = now.Add(100 * time.Millisecond)
	}
	return now
}

func TestSpeechStartRequiresConsecutiveFrames(t *testing.T) {
	log := &eventLog{}
	a := NewAmplitude(testConfig(), log.events(), logger.NewNop())
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	// One loud frame then silence: the debounce must hold.
	a.Feed(0.5, now)
	a.Feed(0.001, now.Add(100*time.Millisecond))
	a.Feed(0.5, now.Add(200*time.Millisecond))

	if len(log.starts) != 0 {
		t.Fatalf("starts = %d, want 0 before the debounce passes", len(log.starts))
	}

	// Two consecutive loud frames fire the edge.
	a.Feed(0.5, now.Add(300*time.Millisecond))
	if len(log.starts) != 1 {
		t.Fatalf("starts = %d, want 1", len(log.starts))
	}
}

func TestSpeechEndAfterHysteresis(t *testing.T) {
	log := &eventLog{}
	a := NewAmplitude(testConfig(), log.events(), logger.NewNop())
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}

	now := feed(a, 10, 0.5, time.Now())
	if len(log.starts) != 1 {
		t.Fatalf("starts = %d, want 1", len(log.starts))
	}

	// Two quiet frames are not enough; the third fires the end edge.
	now = feed(a, 2, 0.001, now)
	if len(log.ends) != 0 {
		t.Fatalf("ends = %d before hysteresis, want 0", len(log.ends))
	}
	feed(a, 1, 0.001, now)
	if len(log.ends) != 1 {
		t.Fatalf("ends = %d, want 1", len(log.ends))
	}
}

func TestShortBurstEndsSilently(t *testing.T) {
	log := &eventLog{}
	a := NewAmplitude(testConfig(), log.events(), logger.NewNop())
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	// 200ms of speech: the start edge fires, but the stretch is below
	// the minimum duration so no end edge follows.
	now = feed(a, 3, 0.5, now)
	feed(a, 3, 0.001, now)

	if len(log.starts) != 1 {
		t.Fatalf("starts = %d, want 1", len(log.starts))
	}
	if len(log.ends) != 0 {
		t.Fatalf("ends = %d, want 0 for a sub-minimum burst", len(log.ends))
	}
}

func TestFeedIgnoredWhenStopped(t *testing.T) {
	log := &eventLog{}
	a := NewAmplitude(testConfig(), log.events(), logger.NewNop())

	feed(a, 10, 0.5, time.Now())
	if len(log.starts) != 0 {
		t.Fatalf("starts = %d before Start, want 0", len(log.starts))
	}

	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	now := feed(a, 10, 0.5, time.Now())
	a.Stop()
	feed(a, 5, 0.001, now)

	if len(log.ends) != 0 {
		t.Fatalf("ends = %d after Stop, want 0", len(log.ends))
	}
}

func TestSemanticRelaysOnlyWhileRunning(t *testing.T) {
	log := &eventLog{}
	rec := &stubRecognizer{}
	s := NewSemantic(rec, log.events(), logger.NewNop())

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	rec.events.OnSpeechStart(time.Now())
	if len(log.starts) != 1 {
		t.Fatalf("starts = %d, want 1", len(log.starts))
	}

	s.Stop()
	rec.events.OnSpeechEnd(time.Now())
	if len(log.ends) != 0 {
		t.Fatalf("ends = %d after Stop, want 0", len(log.ends))
	}
}

func TestSelectPrefersPermittedRecognizer(t *testing.T) {
	signal, semantic := Select(&stubRecognizer{}, testConfig(), Events{}, logger.NewNop())
	if !semantic {
		t.Error("expected the semantic strategy with a permitted recognizer")
	}
	if _, ok := signal.(*Semantic); !ok {
		t.Errorf("signal type = %T, want *Semantic", signal)
	}
}

func TestSelectFallsBackOnDenial(t *testing.T) {
	signal, semantic := Select(&stubRecognizer{denied: true}, testConfig(), Events{}, logger.NewNop())
	if semantic {
		t.Error("expected the amplitude fallback on permission denial")
	}
	if _, ok := signal.(*Amplitude); !ok {
		t.Errorf("signal type = %T, want *Amplitude", signal)
	}
}

func TestSelectFallsBackWithoutRecognizer(t *testing.T) {
	_, semantic := Select(nil, testConfig(), Events{}, logger.NewNop())
	if semantic {
		t.Error("expected the amplitude fallback with no recognizer")
	}
}

type stubRecognizer struct {
	denied bool
	events Events
}

func (s *stubRecognizer) RequestPermission() bool { return !s.denied }

func (s *stubRecognizer) Start(events Events) error {
	s.events = events
	return nil
}

func (s *stubRecognizer) Stop() {}
