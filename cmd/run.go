package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/cymatic/internal/capture"
	"github.com/andresmejia3/cymatic/internal/config"
	"github.com/andresmejia3/cymatic/internal/events"
	"github.com/andresmejia3/cymatic/internal/events/kafka"
	"github.com/andresmejia3/cymatic/internal/events/nop"
	"github.com/andresmejia3/cymatic/internal/frequency"
	"github.com/andresmejia3/cymatic/internal/registry"
	"github.com/andresmejia3/cymatic/internal/scheduler"
	"github.com/andresmejia3/cymatic/internal/seed"
	"github.com/andresmejia3/cymatic/internal/server"
	"github.com/andresmejia3/cymatic/internal/tone"
	"github.com/andresmejia3/cymatic/internal/types"
	"github.com/andresmejia3/cymatic/internal/utils"
	"github.com/andresmejia3/cymatic/internal/worker"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the camera and play a tone for every face",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runSession(cmd.Context(), cfg)
	},
}

func init() {
	config.AddFlags(runCmd, config.Flags,
		config.FlagDevice, config.FlagFormat, config.FlagFPS, config.FlagInterval,
		config.FlagThreshold, config.FlagLearn, config.FlagPython, config.FlagScript, config.FlagTimeout,
		config.FlagDatabase, config.FlagSeed, config.FlagSeedDB,
		config.FlagListen, config.FlagTone, config.FlagPlayer,
		config.FlagBrokers, config.FlagTopic,
	)
	rootCmd.AddCommand(runCmd)
}

// session is everything a run owns, torn down in reverse order.
type session struct {
	registry  *registry.Registry
	camera    *capture.Camera
	extractor *worker.Supervisor
	scheduler *scheduler.Scheduler
	server    *server.Server
	player    *tone.Player
	follower  *tone.Follower
	events    *events.Async
}

// runSession wires camera → extractor → registry → subscribers and blocks
// until ctx is cancelled or the capture input ends.
func runSession(ctx context.Context, c *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.camera.Start(ctx); err != nil {
		utils.ShowError("Failed to start camera", err, s.camera.Command())
		return err
	}

	bar := newProgress(c.Capture.Device)
	var status atomic.Value
	status.Store("waiting for a face")
	describe := scheduler.SubscriberFunc(func(p types.Published) {
		status.Store(describeResult(p))
	})

	subs := []scheduler.Subscriber{describe, s.events}
	if s.follower != nil {
		subs = append(subs, s.follower)
	}
	if s.server != nil {
		subs = append(subs, s.server)
	}

	var learner scheduler.Learner
	if c.Match.Learn > 0 {
		learner = s.registry
	}
	s.scheduler, err = scheduler.New(scheduler.Config{
		Interval:    c.Capture.Interval.Duration,
		Frames:      s.camera,
		Extractor:   s.extractor,
		Registry:    s.registry,
		Describer:   frequency.NewCoordinator(s.registry),
		Learner:     learner,
		Subscribers: subs,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	if err := s.scheduler.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "🎥 Watching %s (tick every %s, threshold %.2f)\n",
		c.Capture.Device, c.Capture.Interval.Duration, c.Match.Threshold)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-s.camera.Done():
			break loop
		case <-ticker.C:
			published, _ := s.camera.Slot().Stats()
			bar.Describe(fmt.Sprintf("🎵 %s", status.Load()))
			_ = bar.Set(int(published))
		}
	}

	s.scheduler.Stop()
	s.scheduler.Wait()
	_ = bar.Finish()

	st := s.scheduler.Stats()
	fmt.Fprintf(os.Stderr, "\n🏁 Session Complete. %d ticks, %d results, %d without a face, %d dropped, %d identities.\n",
		st.Ticks, st.Completed, st.NoFace, st.Dropped, s.registry.Len())

	select {
	case <-s.camera.Done():
		if err := s.camera.Err(); err != nil {
			utils.ShowError("Camera capture failed", err, s.camera.Command())
			return err
		}
	default:
	}
	return nil
}

func newSession(ctx context.Context, c *config.Config) (*session, error) {
	s := &session{}
	gen := frequency.NewRandom(uint64(time.Now().UnixNano()))

	var err error
	s.registry, err = registry.New(registry.Config{
		Threshold:      c.Match.Threshold,
		MaxDescriptors: c.Match.Learn,
		Frequencies: gen,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	if err := seedRegistry(ctx, c, s.registry, gen); err != nil {
		return nil, err
	}

	s.camera = capture.NewCamera(capture.Config{
		Input:  c.Capture.Device,
		Format: c.Capture.Format,
		FPS:    c.Capture.FPS,
		Logger: log,
	})
	s.extractor = worker.NewSupervisor(worker.Spawner(worker.Config{
		Python:  c.Extractor.Python,
		Script:  c.Extractor.Script,
		Timeout: c.Extractor.Timeout.Duration,
		Logger:  log,
	}), log)

	var pub events.Publisher = nop.NewPublisher()
	if len(c.Kafka.Brokers) > 0 {
		kp, err := kafka.NewPublisher(kafka.Config{Brokers: c.Kafka.Brokers, Topic: c.Kafka.Topic})
		if err != nil {
			s.close()
			return nil, err
		}
		pub = kp
		log.Info("publishing results to kafka", zap.Strings("brokers", c.Kafka.Brokers), zap.String("topic", c.Kafka.Topic))
	}
	s.events = events.NewAsync(events.AsyncConfig{Publisher: pub, Logger: log})

	if c.Tone.Enabled {
		s.player = tone.NewPlayer(tone.Config{Logger: log})
		if _, done, err := s.player.Start(ctx, c.Tone.Player); err != nil {
			// Audio is optional; the session still works silently.
			log.Warn("audio disabled", zap.Error(err))
			s.player = nil
		} else {
			go func() {
				if err := <-done; err != nil {
					log.Warn("audio player stopped", zap.Error(err))
				}
			}()
			s.follower = tone.NewFollower(s.player, frequency.NewCoordinator(s.registry))
		}
	}

	if c.Server.Listen != "" {
		s.server = server.New(server.Config{
			Registry: s.registry,
			OnChange: func(string) {
				if s.follower != nil {
					s.follower.Refresh()
				}
			},
			Logger: log,
		})
		addr, err := s.server.Start(c.Server.Listen)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to start ui server: %w", err)
		}
		fmt.Fprintf(os.Stderr, "🌐 UI at http://%s/\n", addr)
	}

	return s, nil
}

// seedRegistry loads the configured profile, if any.
func seedRegistry(ctx context.Context, c *config.Config, reg *registry.Registry, gen frequency.Generator) error {
	var src seed.Source
	switch {
	case c.Seed.Path != "":
		src = seed.File{Path: c.Seed.Path}
	case c.Seed.FromDatabase:
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close(context.Background())
		src = seed.Database{Store: db}
	default:
		return nil
	}

	profile, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load seed profile: %w", err)
	}
	n, err := seed.Apply(reg, profile, gen)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "🌱 Seeded %d known identities (%d descriptors)\n", n, profile.Descriptors())
	return nil
}

func (s *session) close() {
	if s.scheduler != nil {
		s.scheduler.Stop()
		s.scheduler.Wait()
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			log.Warn("ui server shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if s.camera != nil {
		s.camera.Stop()
	}
	if s.extractor != nil {
		if err := s.extractor.Close(); err != nil {
			log.Debug("worker close", zap.Error(err))
		}
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			log.Warn("event publisher close failed", zap.Error(err))
		}
		if n := s.events.Dropped(); n > 0 {
			log.Warn("events dropped during session", zap.Uint64("dropped", n))
		}
	}
	if s.player != nil {
		s.player.Set(0, false)
	}
}

// newProgress shows a frame counter: a bar for recorded clips, a spinner for live devices.
func newProgress(input string) *progressbar.ProgressBar {
	total := -1
	if utils.IsRegularFile(input) {
		if n := utils.GetTotalFrames(input); n > 0 {
			total = n
			log.Info("replaying recorded clip", zap.String("input", input), zap.Int("frames", n))
		}
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🎵 waiting for a face"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

// describeResult renders a published result for the status line.
func describeResult(p types.Published) string {
	if p.IdentityID == nil || p.Frequency == nil {
		return p.Outcome
	}
	s := fmt.Sprintf("%s %s %.2f Hz", p.Outcome, shortID(*p.IdentityID), *p.Frequency)
	if p.Converted {
		s += " (converted)"
	}
	if p.Distance != nil {
		s += fmt.Sprintf(" d=%.3f", *p.Distance)
	}
	return s
}

// shortID trims generated UUIDs for display; seeded labels are kept whole.
func shortID(id string) string {
	if len(id) == 36 && id[8] == '-' {
		return id[:8]
	}
	return id
}
