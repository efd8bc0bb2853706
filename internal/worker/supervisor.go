package worker

import (
	"context"
	"errors"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/andresmejia3/cymatic/internal/types"
)

// SpawnFunc starts a fresh worker.
type SpawnFunc func(ctx context.Context, id int) (*PythonWorker, error)

// Supervisor keeps one PythonWorker alive for the session. A worker whose
// pipe broke is closed (its stderr logged) and replaced on the next call.
type Supervisor struct {
	spawn  SpawnFunc
	logger *zap.Logger

	mu       sync.Mutex
	cur      *PythonWorker
	next     int
	restarts int
}

// NewSupervisor returns a supervisor that starts workers lazily.
func NewSupervisor(spawn SpawnFunc, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{spawn: spawn, logger: logger}
}

// Spawner returns a SpawnFunc for real Python processes.
func Spawner(c Config) SpawnFunc {
	return func(ctx context.Context, id int) (*PythonWorker, error) {
		return NewPythonWorker(ctx, id, c)
	}
}

// Extract implements the scheduler's Extractor.
func (s *Supervisor) Extract(ctx context.Context, frame []byte) (types.Descriptor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur == nil {
		w, err := s.spawn(ctx, s.next)
		if err != nil {
			return nil, false, err
		}
		if s.next > 0 {
			s.restarts++
		}
		s.next++
		s.cur = w
	}

	d, found, err := s.cur.Extract(ctx, frame)
	if err != nil && s.cur.Broken() {
		s.retireLocked(err)
	}
	return d, found, err
}

func (s *Supervisor) retireLocked(cause error) {
	w := s.cur
	s.cur = nil
	if errors.Is(cause, os.ErrDeadlineExceeded) {
		// A hung worker never exits on its own, so Wait would block here.
		if err := w.Kill(); err != nil {
			s.logger.Warn("failed to kill hung python worker", zap.Int("worker", w.ID), zap.Error(err))
		}
	}
	waitErr := w.Close()

	fields := []zap.Field{
		zap.Int("worker", w.ID),
		zap.Error(cause),
	}
	if waitErr != nil {
		fields = append(fields, zap.NamedError("exit", waitErr))
	}
	if w.Cmd != nil && w.Cmd.Stderr.Len() > 0 {
		fields = append(fields, zap.String("stderr", w.Cmd.Stderr.String()))
	}
	s.logger.Error("python worker crashed, will respawn on next frame", fields...)
}

// Restarts returns how many times a worker has been replaced.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Close stops the current worker, if any.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	err := s.cur.Close()
	s.cur = nil
	return err
}
