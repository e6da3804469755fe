// Package session owns the translation session lifecycle: it mediates
// between audio capture, the voice activity signal, the submission
// scheduler, the transport channel and the response aggregator, and
// performs the exactly-once finalize/persist protocol.
//
// All shared state lives on one event loop. The producers (audio
// callback, transport receive loop, timers) only post closures into that
// loop; external consumers read snapshots.
package session

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxlate/voxlate/internal/aggregator"
	"github.com/voxlate/voxlate/internal/audio"
	"github.com/voxlate/voxlate/internal/config"
	"github.com/voxlate/voxlate/internal/realtime"
	"github.com/voxlate/voxlate/internal/scheduler"
	"github.com/voxlate/voxlate/internal/storage/sqlite"
	"github.com/voxlate/voxlate/internal/transport"
	"github.com/voxlate/voxlate/internal/vad"
	"github.com/voxlate/voxlate/pkg/logger"
)

// PlaceholderText substitutes for an empty transcript or translation
// side when persisting a record; two empty strings are never persisted.
const PlaceholderText = "(unavailable)"

// Options wires the orchestrator's collaborators. Transport and Capture
// default to the production implementations when nil.
type Options struct {
	Config      *config.Config
	History     History
	Credentials CredentialSource
	// Recognizer backs the semantic voice activity signal; nil or a
	// denied permission selects the amplitude fallback at construction.
	Recognizer vad.Recognizer
	// Transport builds the duplex channel with the orchestrator's
	// callbacks installed.
	Transport func(transport.Callbacks) Transport
	// Capture builds the audio source delivering frames to the given
	// callbacks.
	Capture func(audio.FrameFunc, audio.ErrorFunc) audio.Source
	Logger  *logger.Logger
}

// Orchestrator is the top-level session state machine.
type Orchestrator struct {
	cfg     *config.Config
	logger  *logger.Logger
	history History
	creds   CredentialSource

	transportFactory func(transport.Callbacks) Transport
	captureFactory   func(audio.FrameFunc, audio.ErrorFunc) audio.Source

	sched    *scheduler.Scheduler
	agg      *aggregator.Aggregator
	signal   vad.Signal
	amp      *vad.Amplitude // set when the amplitude strategy is active
	semantic bool

	mode     aggregator.Mode
	encoding aggregator.Encoding

	finalizeTimeout time.Duration
	checkInterval   time.Duration

	calls chan func()
	done  chan struct{}
	once  sync.Once

	// Loop-owned state; never touched outside the event loop.
	channel       Transport
	capture       audio.Source
	capturing     bool
	finalizing    bool
	dirty         bool
	finalizeTimer *time.Timer
	tickStop      chan struct{}
	// pendingInitialConnected marks the Connected transition produced by
	// doConnect's own dial; any other Connected transition is an
	// automatic reconnect and needs the session reconfigured.
	pendingInitialConnected bool

	stateMu sync.RWMutex
	snap    Snapshot
}

// New creates an orchestrator. The voice activity strategy and
// submission policy are fixed here: semantic when configured and
// permitted, amplitude otherwise.
func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.History == nil {
		return nil, fmt.Errorf("history collaborator is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	cfg := opts.Config

	o := &Orchestrator{
		cfg:              cfg,
		logger:           opts.Logger.Named("session"),
		history:          opts.History,
		creds:            opts.Credentials,
		transportFactory: opts.Transport,
		captureFactory:   opts.Capture,
		finalizeTimeout:  time.Duration(cfg.Session.FinalizeTimeoutS) * time.Second,
		checkInterval:    time.Duration(cfg.Scheduler.CheckIntervalMs) * time.Millisecond,
		calls:            make(chan func(), 256),
		done:             make(chan struct{}),
	}

	if cfg.Session.Mode == "continuous" {
		o.mode = aggregator.ModeContinuous
	} else {
		o.mode = aggregator.ModeSingleUtterance
	}
	if cfg.Session.Encoding == "incremental" {
		o.encoding = aggregator.EncodingIncremental
	} else {
		o.encoding = aggregator.EncodingStructured
	}

	o.agg = aggregator.New(o.mode, o.encoding, aggregator.Callbacks{
		OnLive:        o.onLive,
		OnSettled:     o.onSettled,
		OnRemoteError: o.onRemoteError,
	}, opts.Logger)

	// Strategy selection happens once, here. A configured semantic policy
	// without a permitted recognizer degrades to the amplitude heuristic.
	policy := scheduler.PolicyAmplitude
	events := vad.Events{OnSpeechStart: o.onSpeechStart, OnSpeechEnd: o.onSpeechEnd}
	var recognizer vad.Recognizer
	if cfg.Scheduler.Policy == "semantic" {
		recognizer = opts.Recognizer
	}
	signal, semantic := vad.Select(recognizer, vad.AmplitudeConfig{
		SilenceThreshold:  cfg.Scheduler.SilenceThreshold,
		MinSpeechDuration: time.Duration(cfg.Scheduler.MinSpeechDurationMs) * time.Millisecond,
	}, events, opts.Logger)
	o.signal = signal
	if semantic {
		o.semantic = true
		policy = scheduler.PolicySemantic
	} else {
		if cfg.Scheduler.Policy == "semantic" {
			o.logger.Warn("Semantic voice detection unavailable, using amplitude heuristic")
		}
		o.amp = signal.(*vad.Amplitude)
	}

	o.sched = scheduler.New(scheduler.Config{
		Policy:                policy,
		SilenceThreshold:      cfg.Scheduler.SilenceThreshold,
		PauseThreshold:        time.Duration(cfg.Scheduler.PauseThresholdMs) * time.Millisecond,
		MaxBufferFrames:       cfg.Scheduler.MaxBufferFrames,
		MaxSubmissionInterval: time.Duration(cfg.Scheduler.MaxSubmissionSecs) * time.Second,
		MinSpeechDuration:     time.Duration(cfg.Scheduler.MinSpeechDurationMs) * time.Millisecond,
		MinCommitFrames:       cfg.Scheduler.MinCommitFrames,
	}, opts.Logger)

	if o.transportFactory == nil {
		o.transportFactory = func(cb transport.Callbacks) Transport {
			return transport.NewChannel(transport.Config{
				HandshakeTimeout:     time.Duration(cfg.Transport.HandshakeTimeoutSecs) * time.Second,
				KeepaliveInterval:    time.Duration(cfg.Transport.KeepaliveSecs) * time.Second,
				MaxReconnectAttempts: cfg.Transport.MaxReconnectAttempts,
			}, cb, opts.Logger)
		}
	}
	if o.captureFactory == nil {
		o.captureFactory = func(onFrame audio.FrameFunc, onError audio.ErrorFunc) audio.Source {
			return audio.NewFFmpegCapture(audio.CaptureConfig{
				FFmpegPath:   cfg.Audio.FFmpegPath,
				InputFormat:  cfg.Audio.InputFormat,
				InputDevice:  cfg.Audio.InputDevice,
				SampleRate:   cfg.Audio.SampleRate,
				Channels:     cfg.Audio.Channels,
				FrameMs:      cfg.Audio.FrameMs,
				RestartDelay: time.Duration(cfg.Audio.RestartSecs) * time.Second,
			}, onFrame, onError, opts.Logger)
		}
	}

	o.snap = Snapshot{
		Connection:     ConnectionState{Kind: ConnDisconnected},
		InputLanguage:  cfg.Session.InputLanguage,
		TargetLanguage: cfg.Session.TargetLanguage,
	}

	go o.run()

	return o, nil
}

// run is the single serialized control context.
func (o *Orchestrator) run() {
	for {
		select {
		case fn := <-o.calls:
			fn()
		case <-o.done:
			return
		}
	}
}

// post hands a closure to the event loop.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.calls <- fn:
	case <-o.done:
	}
}

// call posts a closure and waits for it to run.
func (o *Orchestrator) call(fn func() error) error {
	errc := make(chan error, 1)
	o.post(func() { errc <- fn() })
	select {
	case err := <-errc:
		return err
	case <-o.done:
		return fmt.Errorf("session is shut down")
	}
}

// Shutdown disconnects and stops the event loop.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	err := o.call(func() error { return o.doDisconnect() })
	o.once.Do(func() { close(o.done) })
	return err
}

// Snapshot returns a copy of the externally visible session state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.snap
}

func (o *Orchestrator) updateSnap(fn func(*Snapshot)) {
	o.stateMu.Lock()
	fn(&o.snap)
	o.stateMu.Unlock()
}

// Connect establishes the realtime session: credential check, WebSocket
// connect, then session configuration.
func (o *Orchestrator) Connect(ctx context.Context) error {
	return o.call(func() error { return o.doConnect(ctx) })
}

func (o *Orchestrator) doConnect(ctx context.Context) error {
	if o.channel != nil {
		if o.snapConnectionKind() == ConnConnected {
			return fmt.Errorf("session already connected")
		}
		// A channel left over from a failed or still-retrying attempt:
		// tear it down so this connect starts clean.
		_ = o.channel.Disconnect()
		o.channel = nil
	}

	key, err := o.apiKey()
	if err != nil {
		return err
	}

	endpoint := wsEndpoint(o.cfg.Realtime.BaseURL, o.cfg.Realtime.WebSocketPath, o.cfg.Realtime.Model)
	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Bearer %s", key))
	header.Set("OpenAI-Beta", "realtime=v1")

	o.updateSnap(func(s *Snapshot) { s.Connection = ConnectionState{Kind: ConnConnecting} })

	channel := o.transportFactory(transport.Callbacks{
		OnMessage: func(data []byte) {
			o.post(func() { o.handleMessage(data) })
		},
		OnState: func(st transport.State) {
			o.post(func() { o.handleTransportState(st) })
		},
	})

	if err := channel.Connect(ctx, endpoint, header); err != nil {
		// The channel's own reconnect path may still recover it; if it
		// does, the Connected transition reconfigures the session.
		o.channel = channel
		return fmt.Errorf("failed to connect session: %w", err)
	}
	o.channel = channel
	o.pendingInitialConnected = true

	if err := o.sendSessionUpdate(); err != nil {
		return err
	}

	o.logger.Info("Session connected",
		logger.String("model", o.cfg.Realtime.Model),
		logger.String("target_language", o.cfg.Session.TargetLanguage))

	return nil
}

// Disconnect performs a clean user-initiated teardown. Any in-flight
// response is abandoned: there is no finalize guarantee on this path.
func (o *Orchestrator) Disconnect() error {
	return o.call(func() error { return o.doDisconnect() })
}

func (o *Orchestrator) doDisconnect() error {
	if o.capturing {
		o.stopCaptureLocked()
	}
	if o.finalizeTimer != nil {
		o.finalizeTimer.Stop()
		o.finalizeTimer = nil
	}
	o.finalizing = false
	o.sched.Reset()
	o.sched.SetAwaiting(false)

	if o.channel != nil {
		if err := o.channel.Disconnect(); err != nil {
			o.logger.Warn("Error during disconnect", logger.Error(err))
		}
		o.channel = nil
	}
	o.pendingInitialConnected = false

	o.updateSnap(func(s *Snapshot) {
		s.Connection = ConnectionState{Kind: ConnDisconnected}
		s.Capturing = false
		s.Finalizing = false
		s.Speaking = false
	})

	return nil
}

// StartCapture begins a listening cycle.
func (o *Orchestrator) StartCapture() error {
	return o.call(func() error { return o.doStartCapture() })
}

func (o *Orchestrator) doStartCapture() error {
	if o.capturing {
		return nil
	}
	if o.snapConnectionKind() != ConnConnected {
		return fmt.Errorf("cannot start capture: session is not connected")
	}

	o.agg.Reset()
	o.dirty = false

	if err := o.signal.Start(); err != nil {
		return fmt.Errorf("failed to start voice activity signal: %w", err)
	}

	capture := o.captureFactory(
		func(frame audio.Frame) {
			o.post(func() { o.handleFrame(frame) })
		},
		func(err error) {
			o.post(func() {
				o.logger.Error("Audio capture error", logger.Error(err))
			})
		},
	)
	if err := capture.Start(); err != nil {
		o.signal.Stop()
		return fmt.Errorf("failed to start audio capture: %w", err)
	}
	o.capture = capture

	o.sched.Reset()
	o.startTicker()

	o.capturing = true
	o.updateSnap(func(s *Snapshot) {
		s.Capturing = true
		s.Transcript = ""
		s.Translation = ""
	})

	o.logger.Info("Capture started")
	return nil
}

// StopCapture ends the listening cycle and runs the finalize protocol:
// local timers stop, a trailing segment is flushed (subject to the
// minimum checks), and finalization fires exactly once on the first of
// the terminal response or the safety-net timeout.
func (o *Orchestrator) StopCapture() error {
	return o.call(func() error { return o.doStopCapture() })
}

func (o *Orchestrator) doStopCapture() error {
	if !o.capturing {
		return nil
	}

	o.stopCaptureLocked()

	if decision := o.sched.Flush(time.Now()); decision.Commit {
		o.doCommit(decision)
	}

	o.finalizing = true
	o.updateSnap(func(s *Snapshot) {
		s.Capturing = false
		s.Finalizing = true
		s.Speaking = false
	})

	if o.sched.Awaiting() {
		o.finalizeTimer = time.AfterFunc(o.finalizeTimeout, func() {
			o.post(func() { o.finalize("timeout") })
		})
	} else {
		o.finalize("stop")
	}

	return nil
}

// stopCaptureLocked stops the audio producers and local timers. It never
// cancels an in-flight network request.
func (o *Orchestrator) stopCaptureLocked() {
	if o.capture != nil {
		o.capture.Stop()
		o.capture = nil
	}
	o.signal.Stop()
	o.stopTicker()
	o.capturing = false
}

func (o *Orchestrator) startTicker() {
	stop := make(chan struct{})
	o.tickStop = stop
	go func() {
		ticker := time.NewTicker(o.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-o.done:
				return
			case now := <-ticker.C:
				o.post(func() {
					if !o.capturing {
						return
					}
					if decision := o.sched.Tick(now); decision.Commit {
						o.doCommit(decision)
					}
				})
			}
		}
	}()
}

func (o *Orchestrator) stopTicker() {
	if o.tickStop != nil {
		close(o.tickStop)
		o.tickStop = nil
	}
}

// handleFrame processes one captured frame inside the loop.
func (o *Orchestrator) handleFrame(frame audio.Frame) {
	if !o.capturing {
		return
	}

	// Amplitude strategy is frame-synchronous; its events fire inline
	// here, which is already the serialized context.
	if o.amp != nil {
		o.amp.Feed(frame.Level, frame.Time)
	}

	if o.channel != nil {
		if msg, err := realtime.AppendAudio(frame.PCM); err == nil {
			if err := o.channel.Send(msg); err != nil {
				o.logger.Debug("Failed to send audio frame", logger.Error(err))
			}
		}
	}

	if decision := o.sched.OnFrame(frame.Level, frame.Time); decision.Commit {
		o.doCommit(decision)
	}
}

// onSpeechStart is the voice activity speech-start callback.
func (o *Orchestrator) onSpeechStart(at time.Time) {
	o.post(func() {
		if !o.capturing {
			return
		}
		o.sched.OnSpeechStart(at)
		o.updateSnap(func(s *Snapshot) { s.Speaking = true })
	})
}

// onSpeechEnd is the voice activity speech-end callback.
func (o *Orchestrator) onSpeechEnd(at time.Time) {
	o.post(func() {
		o.updateSnap(func(s *Snapshot) { s.Speaking = false })
		if !o.capturing {
			return
		}
		decision := o.sched.OnSpeechEnd(at)
		if decision.Commit {
			o.doCommit(decision)
			return
		}
		// A dropped segment leaves its audio in the remote buffer; clear
		// it so the noise is not prepended to the next commit.
		if o.semantic && !o.sched.Awaiting() && o.channel != nil {
			if msg, err := realtime.ClearBuffer(); err == nil {
				if err := o.channel.Send(msg); err != nil {
					o.logger.Debug("Failed to clear remote buffer", logger.Error(err))
				}
			}
		}
	})
}

// doCommit sends the commit pair and closes the admission gate.
func (o *Orchestrator) doCommit(decision scheduler.Decision) {
	if o.channel == nil {
		o.logger.Warn("Commit trigger with no transport, dropping segment",
			logger.String("reason", decision.Reason.String()))
		return
	}

	commitMsg, err := realtime.CommitBuffer()
	if err != nil {
		o.logger.Error("Failed to build commit message", logger.Error(err))
		return
	}
	responseMsg, err := realtime.CreateResponse(o.cfg.Realtime.AudioOutput)
	if err != nil {
		o.logger.Error("Failed to build response request", logger.Error(err))
		return
	}

	if err := o.channel.Send(commitMsg); err != nil {
		o.logger.Error("Failed to send commit", logger.Error(err))
		return
	}
	if err := o.channel.Send(responseMsg); err != nil {
		o.logger.Error("Failed to send response request", logger.Error(err))
		return
	}

	o.sched.SetAwaiting(true)
	o.agg.BeginCycle()

	o.logger.Debug("Committed audio segment",
		logger.String("reason", decision.Reason.String()),
		logger.Int("frames", decision.Frames))
}

// handleMessage processes one inbound transport message inside the loop.
func (o *Orchestrator) handleMessage(data []byte) {
	event, err := realtime.ParseServerEvent(data)
	if err != nil {
		o.logger.Error("Failed to parse server event", logger.Error(err))
		return
	}

	switch event.Type {
	case realtime.TypeSessionCreated, realtime.TypeSessionUpdated, realtime.TypeItemCreated:
		o.logger.Debug("Session event", logger.String("type", event.Type))
	case realtime.TypeError:
		o.agg.HandleEvent(event)
	default:
		// A response straggling in after finalize already ran is stale:
		// its content was either persisted from the live state or
		// abandoned. First trigger wins.
		if !o.capturing && !o.finalizing {
			o.logger.Debug("Ignoring late response event", logger.String("type", event.Type))
			return
		}
		o.agg.HandleEvent(event)
	}
}

// handleTransportState maps transport states onto the session connection
// state inside the loop.
func (o *Orchestrator) handleTransportState(st transport.State) {
	var conn ConnectionState
	reconnected := false
	switch st.Kind {
	case transport.StateDisconnected:
		conn = ConnectionState{Kind: ConnDisconnected}
	case transport.StateConnecting:
		conn = ConnectionState{Kind: ConnConnecting}
	case transport.StateConnected:
		conn = ConnectionState{Kind: ConnConnected}
		if o.pendingInitialConnected {
			o.pendingInitialConnected = false
		} else if o.channel != nil {
			reconnected = true
		}
	case transport.StateFailed:
		conn = ConnectionState{Kind: ConnError, Reason: st.Reason}
	}
	o.updateSnap(func(s *Snapshot) { s.Connection = conn })

	if reconnected {
		o.reconfigureAfterReconnect()
	}
}

// reconfigureAfterReconnect restores the remote session after the
// transport's automatic reconnect. The new connection starts a fresh
// remote session with default settings, so the configuration must be
// pushed again; a response that was in flight when the old connection
// dropped will never settle, so the admission gate reopens too.
func (o *Orchestrator) reconfigureAfterReconnect() {
	o.logger.Info("Transport reconnected, restoring session configuration")
	if err := o.sendSessionUpdate(); err != nil {
		o.logger.Error("Failed to restore session configuration", logger.Error(err))
	}
	if o.sched.Awaiting() {
		o.logger.Warn("Abandoning response lost with the previous connection")
		o.sched.SetAwaiting(false)
		if o.finalizing {
			o.finalize("reconnect")
		}
	}
}

// onLive receives live text updates from the aggregator (already inside
// the loop: the aggregator is only driven from handleMessage).
func (o *Orchestrator) onLive(transcript, translation string) {
	o.dirty = true
	o.updateSnap(func(s *Snapshot) {
		s.Transcript = transcript
		s.Translation = translation
	})
}

// onSettled receives the terminal response-complete signal.
func (o *Orchestrator) onSettled(usage *realtime.Usage) {
	if usage != nil {
		o.updateSnap(func(s *Snapshot) {
			s.Usage.InputTokens += usage.InputTokens
			s.Usage.OutputTokens += usage.OutputTokens
			s.Usage.TotalTokens += usage.TotalTokens
		})
	}

	o.sched.SetAwaiting(false)

	if o.finalizing {
		o.finalize("response")
		return
	}

	// Discrete utterances persist immediately on completion; the
	// continuous session persists once, at finalize.
	if o.mode == aggregator.ModeSingleUtterance && o.dirty {
		o.persistCurrent()
	}
}

// onRemoteError surfaces an explicit remote error event as a session
// error state. The transport stays open; the user must retry manually.
func (o *Orchestrator) onRemoteError(message string) {
	o.updateSnap(func(s *Snapshot) {
		s.Connection = ConnectionState{Kind: ConnError, Reason: message}
	})
	// A failed request never settles; reopen the admission gate so a
	// retry is possible.
	o.sched.SetAwaiting(false)
	if o.finalizing {
		o.finalize("remote_error")
	}
}

// finalize runs the finalize routine exactly once per stop request. Both
// triggers (terminal response, safety-net timeout) execute inside the
// loop, so the check-and-clear cannot interleave.
func (o *Orchestrator) finalize(trigger string) {
	if !o.finalizing {
		return
	}
	if o.finalizeTimer != nil {
		o.finalizeTimer.Stop()
		o.finalizeTimer = nil
	}

	o.logger.Info("Finalizing session", logger.String("trigger", trigger))

	if o.dirty {
		o.persistCurrent()
	}

	if o.mode == aggregator.ModeContinuous {
		o.agg.Reset()
	}

	// A timeout-triggered finalize abandons the outstanding response;
	// reopen the admission gate so the next cycle can commit.
	o.sched.SetAwaiting(false)

	o.finalizing = false
	o.updateSnap(func(s *Snapshot) { s.Finalizing = false })
}

// persistCurrent persists the live content as one record. An empty side
// gets the placeholder; two empty sides persist nothing.
func (o *Orchestrator) persistCurrent() {
	transcript, translation := o.agg.Snapshot()
	if transcript == "" && translation == "" {
		o.dirty = false
		return
	}
	if transcript == "" {
		transcript = PlaceholderText
	}
	if translation == "" {
		translation = PlaceholderText
	}

	record := &sqlite.TranscriptionRecord{
		ID:             uuid.NewString(),
		OriginalText:   transcript,
		TranslatedText: translation,
		CreatedAt:      time.Now().UTC(),
		SourceLanguage: o.cfg.Session.InputLanguage,
		TargetLanguage: o.cfg.Session.TargetLanguage,
	}

	if err := o.history.Persist(record); err != nil {
		o.logger.Error("Failed to persist transcription record", logger.Error(err))
		return
	}

	o.dirty = false
	o.logger.Debug("Persisted transcription record", logger.String("id", record.ID))
}

// ResetUsage clears the cumulative usage counters.
func (o *Orchestrator) ResetUsage() {
	o.post(func() {
		o.updateSnap(func(s *Snapshot) { s.Usage = UsageCounters{} })
	})
}

// LoadHistory returns all persisted records.
func (o *Orchestrator) LoadHistory() ([]*sqlite.TranscriptionRecord, error) {
	return o.history.LoadAll()
}

// ClearHistory removes all persisted records.
func (o *Orchestrator) ClearHistory() error {
	return o.history.Clear()
}

// sendSessionUpdate pushes the session configuration: instructions,
// audio formats, disabled server-side turn detection, temperature and
// the response token cap.
func (o *Orchestrator) sendSessionUpdate() error {
	settings := realtime.SessionSettings{
		Instructions:      o.instructions(),
		InputAudioFormat:  "pcm16",
		Modalities:        []string{"text"},
		Temperature:       o.cfg.Realtime.Temperature,
		MaxResponseTokens: o.cfg.Realtime.MaxResponseTokens,
	}
	if o.cfg.Realtime.AudioOutput {
		settings.Modalities = []string{"text", "audio"}
		settings.OutputAudioFormat = "pcm16"
	}

	msg, err := realtime.SessionUpdate(settings)
	if err != nil {
		return err
	}
	if err := o.channel.Send(msg); err != nil {
		return fmt.Errorf("failed to send session configuration: %w", err)
	}
	return nil
}

// instructions returns the system instructions for the remote session,
// from the configured prompt file when present.
func (o *Orchestrator) instructions() string {
	if o.cfg.Session.PromptPath != "" {
		if data, err := os.ReadFile(o.cfg.Session.PromptPath); err == nil {
			return strings.TrimSpace(string(data))
		}
		o.logger.Warn("Failed to read prompt file, using built-in instructions",
			logger.String("path", o.cfg.Session.PromptPath))
	}

	from := "the audio"
	if o.cfg.Session.InputLanguage != "" {
		from = fmt.Sprintf("the %s audio", o.cfg.Session.InputLanguage)
	}

	if o.encoding == aggregator.EncodingStructured {
		return fmt.Sprintf(
			"You are a professional interpreter. Transcribe %s you receive and translate it into %s. "+
				"Respond with a single JSON object of the form "+
				`{"transcription": "<what was said>", "translation": "<the translation>"} and nothing else.`,
			from, o.cfg.Session.TargetLanguage)
	}
	return fmt.Sprintf(
		"You are a professional interpreter. Translate %s you receive into %s. "+
			"Respond with only the translated text, nothing else.",
		from, o.cfg.Session.TargetLanguage)
}

// apiKey resolves and validates the credential.
func (o *Orchestrator) apiKey() (string, error) {
	key := o.cfg.Realtime.APIKey
	if o.creds != nil {
		k, err := o.creds.APIKey()
		if err != nil {
			return "", fmt.Errorf("failed to read credential: %w", err)
		}
		if k != "" {
			key = k
		}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("API key is required")
	}
	if strings.ContainsAny(key, " \t\n") {
		return "", fmt.Errorf("invalid API key format")
	}
	return key, nil
}

func (o *Orchestrator) snapConnectionKind() ConnectionKind {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.snap.Connection.Kind
}

// wsEndpoint builds the realtime websocket URL from an http(s) base.
func wsEndpoint(base, path, model string) string {
	b := strings.TrimRight(base, "/")
	if strings.HasPrefix(b, "https://") {
		b = "wss://" + strings.TrimPrefix(b, "https://")
	} else if strings.HasPrefix(b, "http://") {
		b = "ws://" + strings.TrimPrefix(b, "http://")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s%s?model=%s", b, path, model)
}
