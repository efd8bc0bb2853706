// Package registry owns the session's set of registered faces.
//
// The Registry is the only mutable state shared between the capture loop and
// UI actions. Every operation takes the same mutex, so Resolve (match and
// maybe append) is linearized against ToggleConversion and Delete.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andresmejia3/cymatic/internal/frequency"
	"github.com/andresmejia3/cymatic/internal/matcher"
	"github.com/andresmejia3/cymatic/internal/types"
)

var (
	// ErrDuplicateID is returned when seeding a face whose id is already registered.
	ErrDuplicateID = errors.New("duplicate identity id")

	// ErrEmptyDescriptors is returned when adding a face with no descriptors.
	ErrEmptyDescriptors = errors.New("face has no descriptors")
)

// IDGenerator produces identity ids that are unique for the registry's lifetime.
type IDGenerator interface {
	NewID() string
}

// UUIDs generates random v4 UUID strings.
type UUIDs struct{}

func (UUIDs) NewID() string { return uuid.NewString() }

// Config is the configuration for a Registry.
type Config struct {
	// Threshold is the maximum match distance. Defaults to matcher.DefaultThreshold.
	Threshold float64

	// IDs generates ids for new faces. Defaults to UUIDs.
	IDs IDGenerator

	// MaxDescriptors caps AddDescriptor per face. 0 means no cap.
	MaxDescriptors int

	// Frequencies assigns a frequency to each new face. Required.
	Frequencies frequency.Generator

	// Logger is the provided zap logger. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Registry is an ordered, id-keyed collection of faces.
type Registry struct {
	mu     sync.Mutex
	faces  map[string]*types.RegisteredFace
	order  []string
	issued map[string]struct{} // every id ever held, including deleted ones
	config Config
	logger *zap.Logger
}

// New creates an empty registry.
func New(c Config) (*Registry, error) {
	if c.Frequencies == nil {
		return nil, errors.New("registry: frequency generator is required")
	}
	if c.Threshold <= 0 {
		c.Threshold = matcher.DefaultThreshold
	}
	if c.IDs == nil {
		c.IDs = UUIDs{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &Registry{
		faces:  make(map[string]*types.RegisteredFace),
		issued: make(map[string]struct{}),
		config: c,
		logger: c.Logger,
	}, nil
}

// Threshold returns the match threshold in use.
func (r *Registry) Threshold() float64 {
	return r.config.Threshold
}

// Resolve matches d against the registry and registers a new face if nothing
// is close enough. A match never accumulates d onto the existing face; callers
// that want that use AddDescriptor.
func (r *Registry) Resolve(d types.Descriptor, screenshot []byte) types.TickOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := matcher.Match(d, r.snapshotLocked(), r.config.Threshold)
	if res.Known() {
		return types.TickOutcome{Kind: types.Matched, ID: res.Label, Distance: res.Distance}
	}

	id := r.newIDLocked()
	hz := r.config.Frequencies.Generate()
	if !frequency.Valid(hz) {
		// A broken generator must not corrupt the registry.
		r.logger.Warn("frequency generator returned invalid value, falling back",
			zap.Float64("frequency", hz),
		)
		hz = frequency.MinHz
	}

	face := &types.RegisteredFace{
		ID:          id,
		Descriptors: []types.Descriptor{d.Clone()},
		Frequency:   hz,
		Screenshot:  screenshot,
	}
	r.faces[id] = face
	r.order = append(r.order, id)
	r.issued[id] = struct{}{}

	r.logger.Info("unknown face registered",
		zap.String("id", id),
		zap.Float64("frequency", hz),
		zap.Float64("closest_distance", res.Distance),
		zap.Int("known_faces", len(r.order)),
	)
	return types.TickOutcome{Kind: types.Registered, ID: id, Distance: res.Distance}
}

const maxIDAttempts = 8

// newIDLocked retries on collision so ids stay unique. A generator that keeps
// colliding (or one that could reuse a deleted id) falls back to UUIDs.
func (r *Registry) newIDLocked() string {
	gen := r.config.IDs
	for attempt := 0; ; attempt++ {
		if attempt == maxIDAttempts {
			gen = UUIDs{}
		}
		id := gen.NewID()
		if _, used := r.issued[id]; !used && id != types.Unknown && id != "" {
			return id
		}
		r.logger.Warn("identity id collision, regenerating", zap.String("id", id))
	}
}

// Add appends a fully formed face (used for seeding). The id is kept as-is.
func (r *Registry) Add(face types.RegisteredFace) error {
	if len(face.Descriptors) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyDescriptors, face.ID)
	}
	if !frequency.Valid(face.Frequency) {
		return fmt.Errorf("invalid frequency %v for %s", face.Frequency, face.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.issued[face.ID]; exists || face.ID == types.Unknown || face.ID == "" {
		return fmt.Errorf("%w: %s", ErrDuplicateID, face.ID)
	}
	stored := face.Clone()
	r.faces[face.ID] = &stored
	r.order = append(r.order, face.ID)
	r.issued[face.ID] = struct{}{}
	return nil
}

// AddDescriptor appends another descriptor to an existing face.
// Returns false if the face is absent or already holds MaxDescriptors.
func (r *Registry) AddDescriptor(id string, d types.Descriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	face, ok := r.faces[id]
	if !ok {
		return false
	}
	if max := r.config.MaxDescriptors; max > 0 && len(face.Descriptors) >= max {
		return false
	}
	face.Descriptors = append(face.Descriptors, d.Clone())
	r.logger.Debug("descriptor learned",
		zap.String("id", id),
		zap.Int("descriptors", len(face.Descriptors)),
	)
	return true
}

// ToggleConversion flips the converted flag of id. Absent ids are ignored.
func (r *Registry) ToggleConversion(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	face, ok := r.faces[id]
	if !ok {
		r.logger.Debug("toggle on absent identity ignored", zap.String("id", id))
		return false
	}
	face.Converted = !face.Converted
	r.logger.Info("identity conversion toggled",
		zap.String("id", id),
		zap.Bool("converted", face.Converted),
	)
	return true
}

// Delete removes id, keeping the order of the remaining faces.
// Absent ids are ignored.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.faces[id]; !ok {
		r.logger.Debug("delete on absent identity ignored", zap.String("id", id))
		return false
	}
	delete(r.faces, id)
	for i, cur := range r.order {
		if cur == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Info("identity deleted", zap.String("id", id), zap.Int("known_faces", len(r.order)))
	return true
}

// Get returns a copy of the face with id.
func (r *Registry) Get(id string) (types.RegisteredFace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	face, ok := r.faces[id]
	if !ok {
		return types.RegisteredFace{}, false
	}
	return face.Clone(), true
}

// Len returns the number of registered faces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Snapshot returns copies of all faces in display order.
func (r *Registry) Snapshot() []types.RegisteredFace {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.RegisteredFace, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.faces[id].Clone())
	}
	return out
}

// snapshotLocked returns the faces in order without copying; callers must hold mu
// and must not retain the result.
func (r *Registry) snapshotLocked() []types.RegisteredFace {
	out := make([]types.RegisteredFace, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.faces[id])
	}
	return out
}

// View builds the UI view model. currentID is dropped if it no longer exists.
func (r *Registry) View(currentID string) types.View {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := types.View{Faces: make([]types.FaceView, 0, len(r.order))}
	for _, id := range r.order {
		f := r.faces[id]
		v.Faces = append(v.Faces, types.FaceView{
			ID:         f.ID,
			Frequency:  f.Frequency,
			Screenshot: f.Screenshot,
			Converted:  f.Converted,
		})
	}
	if _, ok := r.faces[currentID]; ok {
		v.CurrentID = currentID
	}
	return v
}
