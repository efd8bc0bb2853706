package types

import "time"

// Unknown is the match label used when no registered face is close enough.
const Unknown = "unknown"

// Descriptor is a face embedding produced by the extractor (128-d for the default model).
type Descriptor []float64

// Clone returns an independent copy so callers can't mutate registry state.
func (d Descriptor) Clone() Descriptor {
	out := make(Descriptor, len(d))
	copy(out, d)
	return out
}

// FrameTask is a single encoded camera frame (JPEG) with its capture index.
type FrameTask struct {
	Index int
	Data  []byte
}

// FaceResult matches the JSON structure coming back from the Python worker
type FaceResult struct {
	Loc []int     `json:"loc"` // [top, right, bottom, left]
	Vec []float64 `json:"vec"` // face encoding
}

// Area returns the pixel area of the detection box, 0 if the box is malformed.
func (f FaceResult) Area() int {
	if len(f.Loc) != 4 {
		return 0
	}
	h := f.Loc[2] - f.Loc[0]
	w := f.Loc[1] - f.Loc[3]
	if h <= 0 || w <= 0 {
		return 0
	}
	return h * w
}

// ErrorResult captures the error object returned by Python on failure
type ErrorResult struct {
	Error string `json:"error"`
}

// RegisteredFace is one identity held by the registry.
type RegisteredFace struct {
	ID          string
	Descriptors []Descriptor
	Frequency   float64
	Screenshot  []byte
	Converted   bool
}

// Clone copies the descriptor slices; the screenshot is shared since it is never written after creation.
func (f RegisteredFace) Clone() RegisteredFace {
	descs := make([]Descriptor, len(f.Descriptors))
	for i, d := range f.Descriptors {
		descs[i] = d.Clone()
	}
	f.Descriptors = descs
	return f
}

// MatchResult is the matcher's answer for a single descriptor.
type MatchResult struct {
	Label    string
	Distance float64
}

// Known reports whether the result refers to a registered identity.
func (m MatchResult) Known() bool {
	return m.Label != Unknown
}

// OutcomeKind tags what happened during one tick.
type OutcomeKind int

const (
	NoFaceDetected OutcomeKind = iota
	Matched
	Registered
)

func (k OutcomeKind) String() string {
	switch k {
	case Matched:
		return "matched"
	case Registered:
		return "registered"
	default:
		return "no_face"
	}
}

// TickOutcome is produced once per completed tick.
// ID and Distance are only meaningful for Matched and Registered.
type TickOutcome struct {
	Kind     OutcomeKind
	ID       string
	Distance float64
}

// HasIdentity reports whether the outcome resolved to an identity.
func (o TickOutcome) HasIdentity() bool {
	return o.Kind == Matched || o.Kind == Registered
}

// Published is what audio, UI and event subscribers receive after a tick.
type Published struct {
	Tick       uint64    `json:"tick"`
	Outcome    string    `json:"outcome"`
	IdentityID *string   `json:"identity_id"`
	Frequency  *float64  `json:"frequency"`
	Converted  bool      `json:"converted"`
	Distance   *float64  `json:"distance"` // nil when nothing was registered to compare against
	EmittedAt  time.Time `json:"emitted_at"`
}

// FaceView is the per-face row handed to the UI.
type FaceView struct {
	ID         string  `json:"id"`
	Frequency  float64 `json:"frequency"`
	Screenshot []byte  `json:"screenshot,omitempty"`
	Converted  bool    `json:"converted"`
}

// View is the registry as the UI renders it, in display order.
type View struct {
	Faces     []FaceView `json:"faces"`
	CurrentID string     `json:"current_id,omitempty"`
}
