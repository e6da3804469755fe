// Package aggregator reassembles streamed protocol events into coherent
// transcript/translation text, across two independent axes: the response
// encoding (structured JSON payload vs incremental text deltas) and the
// consumption mode (continuous append vs single-utterance replace).
package aggregator

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/voxlate/voxlate/internal/realtime"
	"github.com/voxlate/voxlate/pkg/logger"
)

// Mode selects how successive response cycles combine.
type Mode int

const (
	// ModeSingleUtterance replaces the live fields wholesale on each
	// terminal event: one utterance, one transcript/translation pair.
	ModeSingleUtterance Mode = iota
	// ModeContinuous concatenates successive cycles into the live fields,
	// with a single separator at each cycle boundary.
	ModeContinuous
)

// Encoding selects how response text arrives.
type Encoding int

const (
	// EncodingStructured expects terminal payloads carrying a JSON object
	// with transcription and translation fields.
	EncodingStructured Encoding = iota
	// EncodingIncremental expects progressive text deltas building one
	// stream, with the terminal event carrying the authoritative full text.
	EncodingIncremental
)

// Callbacks receive aggregation outcomes. All callbacks fire inline from
// HandleEvent, which the session loop calls in delivery order.
type Callbacks struct {
	// OnLive fires whenever the live transcript/translation change.
	OnLive func(transcript, translation string)
	// OnSettled fires on every terminal response-complete event,
	// regardless of encoding, carrying the usage counters (nil when the
	// remote omitted them).
	OnSettled func(usage *realtime.Usage)
	// OnRemoteError fires on an explicit remote error event.
	OnRemoteError func(message string)
}

// structuredPayload is the JSON object expected inside a structured
// terminal payload.
type structuredPayload struct {
	Transcription string `json:"transcription"`
	Translation   string `json:"translation"`
}

// Aggregator consumes ordered server events and maintains the live
// transcript/translation pair. Driven only from the session loop; the
// snapshot accessor is safe for concurrent readers.
type Aggregator struct {
	mode      Mode
	encoding  Encoding
	callbacks Callbacks
	logger    *logger.Logger

	mu          sync.RWMutex
	transcript  string
	translation string

	// newCycle marks that the next payload/delta opens a fresh response
	// cycle: the separator is inserted there and nowhere else.
	newCycle bool
	// cycleText accumulates incremental deltas for the current cycle.
	cycleText strings.Builder
}

// New creates an aggregator.
func New(mode Mode, encoding Encoding, callbacks Callbacks, log *logger.Logger) *Aggregator {
	return &Aggregator{
		mode:      mode,
		encoding:  encoding,
		callbacks: callbacks,
		logger:    log.Named("aggregator"),
	}
}

// BeginCycle marks the start of a new response cycle. The session calls
// it immediately after sending a commit.
func (a *Aggregator) BeginCycle() {
	a.mu.Lock()
	a.newCycle = true
	a.cycleText.Reset()
	a.mu.Unlock()
}

// Snapshot returns the current live transcript and translation.
func (a *Aggregator) Snapshot() (transcript, translation string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.transcript, a.translation
}

// Reset clears the live fields and cycle state.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.transcript = ""
	a.translation = ""
	a.newCycle = false
	a.cycleText.Reset()
	a.mu.Unlock()
}

// HandleEvent consumes one parsed server event. Unknown event kinds are
// ignored.
func (a *Aggregator) HandleEvent(event *realtime.ServerEvent) {
	switch event.Type {
	case realtime.TypeTextDelta:
		a.handleDelta(event.Delta)
	case realtime.TypeTextDone:
		a.handleTextDone(event.Text)
	case realtime.TypeResponseDone:
		if a.callbacks.OnSettled != nil {
			a.callbacks.OnSettled(event.Usage)
		}
	case realtime.TypeError:
		a.logger.Error("Remote error event", logger.String("message", event.ErrorMessage))
		if a.callbacks.OnRemoteError != nil {
			a.callbacks.OnRemoteError(event.ErrorMessage)
		}
	}
}

// handleDelta applies one incremental text delta. Structured sessions
// receive deltas too (the model streams its payload); they are ignored
// there because only the terminal payload is parsed.
func (a *Aggregator) handleDelta(delta string) {
	if a.encoding != EncodingIncremental || delta == "" {
		return
	}

	a.mu.Lock()
	a.cycleText.WriteString(delta)

	switch a.mode {
	case ModeContinuous:
		if a.newCycle {
			if a.translation != "" {
				a.translation += "\n"
			}
			a.newCycle = false
		}
		a.translation += delta
	case ModeSingleUtterance:
		a.translation = a.cycleText.String()
		a.newCycle = false
	}
	transcript, translation := a.transcript, a.translation
	a.mu.Unlock()

	a.emitLive(transcript, translation)
}

// handleTextDone applies one terminal text payload.
func (a *Aggregator) handleTextDone(text string) {
	switch a.encoding {
	case EncodingStructured:
		a.applyStructured(text)
	case EncodingIncremental:
		a.applyIncrementalDone(text)
	}
}

// applyStructured parses the payload for the two required fields. A
// malformed payload falls back to treating the raw text as translation
// only, with the transcript left unavailable; the response is never
// discarded.
func (a *Aggregator) applyStructured(text string) {
	var payload structuredPayload
	parsed := false

	// The model sometimes wraps its JSON in prose or code fences; take
	// the outermost object if a bare parse fails. Both fields are
	// required for the payload to count as well-formed.
	if err := json.Unmarshal([]byte(text), &payload); err == nil && payload.Transcription != "" && payload.Translation != "" {
		parsed = true
	} else {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start != -1 && end > start {
			if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err == nil && payload.Transcription != "" && payload.Translation != "" {
				parsed = true
			}
		}
	}

	if !parsed {
		a.logger.Warn("Malformed structured payload, using raw text as translation",
			logger.Int("payload_length", len(text)))
		payload = structuredPayload{Translation: text}
	}

	a.mu.Lock()
	switch a.mode {
	case ModeContinuous:
		if a.newCycle {
			if a.transcript != "" && payload.Transcription != "" {
				a.transcript += " "
			}
			if a.translation != "" && payload.Translation != "" {
				a.translation += "\n"
			}
			a.newCycle = false
		}
		a.transcript += payload.Transcription
		a.translation += payload.Translation
	case ModeSingleUtterance:
		a.transcript = payload.Transcription
		a.translation = payload.Translation
		a.newCycle = false
	}
	transcript, translation := a.transcript, a.translation
	a.mu.Unlock()

	a.emitLive(transcript, translation)
}

// applyIncrementalDone finishes an incremental cycle. Continuous mode
// ignores the terminal payload's content (the deltas already represent
// the full text); single-utterance mode takes it as the authoritative
// final value, replacing any accumulation drift.
func (a *Aggregator) applyIncrementalDone(text string) {
	if a.mode != ModeSingleUtterance {
		return
	}

	a.mu.Lock()
	a.translation = text
	a.newCycle = false
	transcript, translation := a.transcript, a.translation
	a.mu.Unlock()

	a.emitLive(transcript, translation)
}

func (a *Aggregator) emitLive(transcript, translation string) {
	if a.callbacks.OnLive != nil {
		a.callbacks.OnLive(transcript, translation)
	}
}
