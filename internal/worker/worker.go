package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/cymatic/internal/types"
	"github.com/andresmejia3/cymatic/internal/utils" // Using the SafeCommand wrapper
)

var (
	// ErrWorkerLogic wraps an {"error": ...} reply. The pipe is still usable.
	ErrWorkerLogic = errors.New("python worker error")

	// ErrWorkerBroken is returned after a transport failure left the pipe out of sync.
	ErrWorkerBroken = errors.New("python worker is broken")
)

// Config is the configuration for a PythonWorker.
type Config struct {
	Python  string        // interpreter, defaults to python3
	Script  string        // defaults to python/worker.py
	Timeout time.Duration // per-frame read deadline, 0 disables it
	Logger  *zap.Logger
}

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	broken error
}

func NewPythonWorker(ctx context.Context, id int, c Config) (*PythonWorker, error) {
	if c.Python == "" {
		c.Python = "python3"
	}
	if c.Script == "" {
		c.Script = "python/worker.py"
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	py := utils.NewSafeCommandContext(ctx, c.Python, "-u", c.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	c.Logger.Info("python worker started",
		zap.Int("worker", id),
		zap.String("script", c.Script),
		zap.Int("pid", py.Process.Pid),
	)

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  c.Timeout,
		logger:   c.Logger,
	}, nil
}

// Communicate sends one frame and reads one reply.
// Protocol in both directions: [uint32 BE length][data].
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken != nil {
		return nil, w.broken
	}
	resp, err := w.roundTrip(data)
	if err != nil {
		// A half-read reply leaves the stream unusable.
		w.broken = fmt.Errorf("%w: %v", ErrWorkerBroken, err)
		return nil, err
	}
	return resp, nil
}

func (w *PythonWorker) roundTrip(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.timeout > 0 {
		// Pipes from os.Pipe are pollable, so the deadline applies.
		_ = d.SetReadDeadline(time.Now().Add(w.timeout))
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch a "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessFrame returns every face the model found in a JPEG frame.
func (w *PythonWorker) ProcessFrame(frame []byte) ([]types.FaceResult, error) {
	resp, err := w.Communicate(frame)
	if err != nil {
		return nil, err
	}
	return decodeFaces(resp)
}

func decodeFaces(resp []byte) ([]types.FaceResult, error) {
	var faces []types.FaceResult
	if err := json.Unmarshal(resp, &faces); err != nil {
		// Check if it's a Python error object (e.g. {"error": "..."})
		var errorResult types.ErrorResult
		if json.Unmarshal(resp, &errorResult) == nil && errorResult.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrWorkerLogic, errorResult.Error)
		}
		return nil, fmt.Errorf("malformed worker reply: %w", err)
	}
	return faces, nil
}

// Largest picks the face with the biggest detection box. Faces with an
// empty embedding are skipped.
func Largest(faces []types.FaceResult) (types.FaceResult, bool) {
	best, found := types.FaceResult{}, false
	for _, f := range faces {
		if len(f.Vec) == 0 {
			continue
		}
		if !found || f.Area() > best.Area() {
			best, found = f, true
		}
	}
	return best, found
}

// Extract returns the descriptor of the largest face in frame.
func (w *PythonWorker) Extract(_ context.Context, frame []byte) (types.Descriptor, bool, error) {
	faces, err := w.ProcessFrame(frame)
	if err != nil {
		return nil, false, err
	}
	face, ok := Largest(faces)
	if !ok {
		return nil, false, nil
	}
	if len(faces) > 1 {
		w.log().Debug("multiple faces in frame, using the largest",
			zap.Int("worker", w.ID),
			zap.Int("faces", len(faces)),
		)
	}
	return types.Descriptor(face.Vec), true, nil
}

func (w *PythonWorker) log() *zap.Logger {
	if w.logger == nil {
		return zap.NewNop()
	}
	return w.logger
}

// Broken reports whether a transport error has made the worker unusable.
func (w *PythonWorker) Broken() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.broken != nil
}

// Kill stops a worker that no longer answers.
func (w *PythonWorker) Kill() error {
	if w.Cmd == nil || w.Cmd.Process == nil {
		return nil
	}
	return w.Cmd.Process.Kill()
}

func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
