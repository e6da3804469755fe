package audio

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/voxlate/voxlate/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)

// CaptureConfig contains configuration for the ffmpeg capture source
type CaptureConfig struct {
	FFmpegPath   string
	InputFormat  string // ffmpeg demuxer, e.g. "alsa", "pulse", "avfoundation"
	InputDevice  string // device identifier for the demuxer
	SampleRate   int
	Channels     int
	FrameMs      int
	RestartDelay time.Duration
}

// FFmpegCapture captures microphone audio by running an ffmpeg process
// that resamples the hardware input to the fixed target format (mono,
// 16-bit little-endian PCM) and writes it to stdout.
type FFmpegCapture struct {
	config  CaptureConfig
	onFrame FrameFunc
	onError ErrorFunc
	logger  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	cmd          *exec.Cmd
	stdout       io.ReadCloser
	running      bool
	restartTimer *time.Timer
}

// NewFFmpegCapture creates a new ffmpeg capture source. Frames are
// delivered on the capture goroutine; onFrame must not block on the
// network.
func NewFFmpegCapture(config CaptureConfig, onFrame FrameFunc, onError ErrorFunc, log *logger.Logger) *FFmpegCapture {
	if config.RestartDelay <= 0 {
		config.RestartDelay = 2 * time.Second
	}

	return &FFmpegCapture{
		config:  config,
		onFrame: onFrame,
		onError: onError,
		logger:  log.Named("audio-capture"),
	}
}

// Start starts the capture process. A spawn failure is fatal to the start
// operation and leaves nothing running.
func (c *FFmpegCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.logger.Info("Starting audio capture",
		String("device", c.config.InputDevice),
		Int("sample_rate", c.config.SampleRate),
		Int("frame_ms", c.config.FrameMs))

	if err := c.startFFmpeg(); err != nil {
		c.cancel()
		return fmt.Errorf("failed to start audio capture: %w", err)
	}

	c.running = true
	return nil
}

// Stop stops the capture process and its restart timer.
func (c *FFmpegCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}

	c.logger.Info("Stopping audio capture")

	c.running = false
	c.cancel()
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
	c.stopFFmpeg()
}

// startFFmpeg spawns the ffmpeg process. Caller must hold c.mu.
func (c *FFmpegCapture) startFFmpeg() error {
	args := []string{
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
	}
	if c.config.InputFormat != "" {
		args = append(args, "-f", c.config.InputFormat)
	}
	device := c.config.InputDevice
	if device == "" {
		device = "default"
	}
	args = append(args,
		"-i", device,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", fmt.Sprintf("%d", c.config.Channels),
		"-ar", fmt.Sprintf("%d", c.config.SampleRate),
		"-flush_packets", "1",
		"pipe:1",
	)

	c.cmd = exec.CommandContext(c.ctx, c.config.FFmpegPath, args...)

	var err error
	c.stdout, err = c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go c.readLoop(c.stdout)

	return nil
}

// stopFFmpeg kills the ffmpeg process. Caller must hold c.mu.
func (c *FFmpegCapture) stopFFmpeg() {
	if c.cmd != nil && c.cmd.Process != nil {
		// ffmpeg may already be gone; ignore kill/wait outcomes
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}
	c.cmd = nil
	c.stdout = nil
}

// readLoop reads raw PCM from ffmpeg, re-slices it into frames and
// delivers them with their amplitude metric.
func (c *FFmpegCapture) readLoop(stdout io.ReadCloser) {
	chunker := NewChunker(c.config.SampleRate, c.config.Channels, c.config.FrameMs)
	buffer := make([]byte, 4096)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		n, err := stdout.Read(buffer)
		if n > 0 {
			for _, pcm := range chunker.Push(buffer[:n]) {
				c.onFrame(Frame{
					PCM:   pcm,
					Level: Level(pcm),
					Time:  time.Now(),
				})
			}
		}
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if err == io.EOF {
				c.logger.Warn("Capture process output ended unexpectedly")
			} else {
				c.logger.Error("Error reading from capture process", Error(err))
			}
			if c.onError != nil {
				c.onError(err)
			}
			c.scheduleRestart()
			return
		}
	}
}

// scheduleRestart arms a one-shot restart of the ffmpeg process after the
// configured delay, if capture is still supposed to be running.
func (c *FFmpegCapture) scheduleRestart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.restartTimer != nil {
		return
	}

	c.logger.Warn("Scheduling capture restart",
		String("delay", c.config.RestartDelay.String()))

	c.restartTimer = time.AfterFunc(c.config.RestartDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.restartTimer = nil
		if !c.running {
			return
		}
		c.stopFFmpeg()
		if err := c.startFFmpeg(); err != nil {
			c.logger.Error("Failed to restart capture process", Error(err))
			if c.onError != nil {
				c.onError(err)
			}
		} else {
			c.logger.Info("Capture process restarted")
		}
	})
}
