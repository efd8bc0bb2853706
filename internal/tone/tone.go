// Package tone plays the current identity's frequency as a sine tone.
//
// A Synth renders signed 16-bit little-endian mono PCM. A Player streams it
// in real time into any io.Writer, usually the stdin of an external audio
// player process (aplay, ffplay, pw-play).
package tone

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/cymatic/internal/utils"
)

const (
	DefaultSampleRate = 44100
	DefaultChunk      = 50 * time.Millisecond

	amplitude = 16000
	ramp      = 10 * time.Millisecond
)

// DefaultPlayer is the external command PCM is piped into.
const DefaultPlayer = "aplay -q -t raw -f S16_LE -r 44100 -c 1"

// Synth is a phase-continuous sine oscillator with a short linear ramp on
// every change so switching tones does not click.
type Synth struct {
	sampleRate int
	phase      float64
	gain       float64
	hz         float64
}

func NewSynth(sampleRate int) *Synth {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Synth{sampleRate: sampleRate}
}

// Render produces the next n samples. When on is false the tone fades out.
func (s *Synth) Render(hz float64, on bool, n int) []byte {
	data := make([]byte, n*2)
	target := 0.0
	if on && hz > 0 {
		target = 1
	}
	step := 1 / (ramp.Seconds() * float64(s.sampleRate))

	for i := 0; i < n; i++ {
		switch {
		case s.gain < target:
			s.gain = math.Min(target, s.gain+step)
		case s.gain > target:
			s.gain = math.Max(target, s.gain-step)
		}
		// Phase carries over, so retuning mid-stream stays continuous.
		if on && hz > 0 {
			s.hz = hz
		}

		value := math.Sin(2*math.Pi*s.phase) * s.gain
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(value*amplitude)))

		s.phase += s.hz / float64(s.sampleRate)
		if s.phase >= 1 {
			s.phase -= math.Floor(s.phase)
		}
	}
	return data
}

// Player streams the tone selected by Set.
type Player struct {
	synth      *Synth
	sampleRate int
	chunk      time.Duration
	logger     *zap.Logger

	mu sync.Mutex
	hz float64
	on bool
}

// Config is the configuration for a Player.
type Config struct {
	SampleRate int
	Chunk      time.Duration
	Logger     *zap.Logger
}

func NewPlayer(c Config) *Player {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Chunk <= 0 {
		c.Chunk = DefaultChunk
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return &Player{
		synth:      NewSynth(c.SampleRate),
		sampleRate: c.SampleRate,
		chunk:      c.Chunk,
		logger:     c.Logger,
	}
}

// Set selects the tone. ok=false silences the player. Never blocks.
func (p *Player) Set(hz float64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hz == hz && p.on == ok {
		return
	}
	p.hz, p.on = hz, ok
	p.logger.Debug("tone changed", zap.Float64("frequency", hz), zap.Bool("on", ok))
}

// Current returns the selected tone.
func (p *Player) Current() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hz, p.on
}

// Next renders one chunk of the current tone.
func (p *Player) Next() []byte {
	hz, on := p.Current()
	samples := int(p.chunk.Seconds() * float64(p.sampleRate))
	return p.synth.Render(hz, on, samples)
}

// Run writes one chunk per chunk period into w until ctx is done or a write fails.
func (p *Player) Run(ctx context.Context, w io.Writer) error {
	ticker := time.NewTicker(p.chunk)
	defer ticker.Stop()

	for {
		if _, err := w.Write(p.Next()); err != nil {
			return fmt.Errorf("audio write failed: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Start launches the external player command and streams into its stdin in
// the background. The returned command carries the player's stderr for
// error reports; done receives Run's result.
func (p *Player) Start(ctx context.Context, command string) (*utils.SafeCommand, <-chan error, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("empty audio player command")
	}

	cmd := utils.NewSafeCommandContext(ctx, fields[0], fields[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create player stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start audio player: %w", err)
	}
	p.logger.Info("audio player started", zap.String("command", command))

	done := make(chan error, 1)
	go func() {
		err := p.Run(ctx, stdin)
		stdin.Close()
		cmd.Wait()
		done <- err
	}()
	return cmd, done, nil
}
