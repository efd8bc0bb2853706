// Package capture turns a camera into a "latest frame" source.
//
// ffmpeg decodes the device into an MJPEG stream; frames are split out of it
// and written into a single slot that always holds the newest one. Nobody
// queues frames: a reader that is slower than the camera just sees fewer of them.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/andresmejia3/cymatic/internal/types"
	"github.com/andresmejia3/cymatic/internal/utils"
)

const megabyte = 1024 * 1024

// Slot holds the most recent frame. Publishing overwrites it.
type Slot struct {
	mu          sync.Mutex
	frame       types.FrameTask
	ok          bool
	published   uint64
	overwritten uint64
}

// Publish replaces the current frame. The slot takes ownership of f.Data.
func (s *Slot) Publish(f types.FrameTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ok {
		s.overwritten++
	}
	s.frame, s.ok = f, true
	s.published++
}

// Latest returns the newest frame without consuming it. Callers must not
// modify the returned Data.
func (s *Slot) Latest() (types.FrameTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.ok
}

// Stats returns how many frames were published and how many of those were
// replaced before anyone could have read them.
func (s *Slot) Stats() (published, overwritten uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published, s.overwritten
}

// ReadFrames splits JPEG frames out of r into slot until r ends.
// It returns the number of frames read.
func ReadFrames(r io.Reader, slot *Slot) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	n := 0
	for scanner.Scan() {
		n++
		// The scanner reuses its buffer; the frame outlives this iteration
		// (it may become a registry screenshot).
		data := make([]byte, len(scanner.Bytes()))
		copy(data, scanner.Bytes())
		slot.Publish(types.FrameTask{Index: n, Data: data})
	}
	return n, scanner.Err()
}

// Config is the configuration for a Camera.
type Config struct {
	Input  string // device path, device index or a recorded clip
	Format string // ffmpeg input format (v4l2, avfoundation, dshow); empty for a file
	FPS    int    // decode rate, 0 keeps the source rate
	Logger *zap.Logger
}

// Camera runs ffmpeg and keeps the newest decoded frame.
type Camera struct {
	config Config
	logger *zap.Logger
	slot   *Slot

	cancel context.CancelFunc
	cmd    *utils.SafeCommand
	done   chan struct{}
	frames int
	err    error
}

func NewCamera(c Config) *Camera {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return &Camera{config: c, logger: c.Logger, slot: &Slot{}}
}

// Start launches ffmpeg. Frames become available through Latest.
func (c *Camera) Start(ctx context.Context) error {
	if c.done != nil {
		return errors.New("camera already started")
	}
	if c.config.Input == "" {
		return errors.New("no capture input configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := utils.NewCaptureCmd(ctx, c.config.Input, c.config.Format, c.config.FPS)

	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	c.cancel = cancel
	c.cmd = cmd
	c.done = make(chan struct{})

	c.logger.Info("camera started",
		zap.String("input", c.config.Input),
		zap.String("format", c.config.Format),
		zap.Int("fps", c.config.FPS),
	)

	go func() {
		defer close(c.done)
		n, scanErr := ReadFrames(out, c.slot)
		waitErr := cmd.Wait()

		c.frames = n
		switch {
		case ctx.Err() != nil:
			// Stopped on purpose; ffmpeg's exit status is noise.
		case scanErr != nil:
			c.err = fmt.Errorf("frame scanner failed: %w", scanErr)
		case waitErr != nil:
			c.err = fmt.Errorf("ffmpeg execution failed: %w", waitErr)
		}
		if c.err != nil {
			c.logger.Error("camera stopped", zap.Error(c.err), zap.String("ffmpeg", cmd.Stderr.String()))
		} else {
			c.logger.Info("camera stopped", zap.Int("frames", n))
		}
	}()
	return nil
}

// Latest implements the scheduler's FrameSource.
func (c *Camera) Latest() (types.FrameTask, bool) {
	return c.slot.Latest()
}

// Slot exposes the frame slot for stats.
func (c *Camera) Slot() *Slot {
	return c.slot
}

// Done is closed when ffmpeg exits, either because the input ended or Stop was called.
func (c *Camera) Done() <-chan struct{} {
	return c.done
}

// Err returns why the camera stopped unexpectedly. Valid after Done is closed.
func (c *Camera) Err() error {
	return c.err
}

// Command returns the running ffmpeg process, for error reporting.
func (c *Camera) Command() *utils.SafeCommand {
	return c.cmd
}

// Stop kills ffmpeg and waits for the reader to finish. Safe to call more than once.
func (c *Camera) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}
