// Package frequency assigns tones to identities and decides what to play.
package frequency

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/andresmejia3/cymatic/internal/types"
)

const (
	// OverrideHz is played for every converted face instead of its stored frequency.
	OverrideHz = 528.0

	// MinHz and MaxHz bound the randomly generated identity frequencies.
	MinHz = 110.0
	MaxHz = 880.0
)

// Generator hands out a frequency for a newly registered face.
// Implementations must return a finite positive number.
type Generator interface {
	Generate() float64
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func() float64

func (f GeneratorFunc) Generate() float64 { return f() }

// Random draws uniformly from [MinHz, MaxHz), rounded to centihertz.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom seeds a generator. Equal seeds give equal sequences.
func NewRandom(seed uint64) *Random {
	return &Random{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *Random) Generate() float64 {
	r.mu.Lock()
	v := MinHz + r.rng.Float64()*(MaxHz-MinHz)
	r.mu.Unlock()
	return math.Round(v*100) / 100
}

// Valid reports whether hz can be used as an identity frequency.
func Valid(hz float64) bool {
	return hz > 0 && !math.IsInf(hz, 0) && !math.IsNaN(hz)
}

// Lookup is the read side of the registry the coordinator needs.
type Lookup interface {
	Get(id string) (types.RegisteredFace, bool)
}

// Coordinator maps the currently matched identity to what should be played.
type Coordinator struct {
	faces Lookup
}

func NewCoordinator(faces Lookup) *Coordinator {
	return &Coordinator{faces: faces}
}

// EffectiveFrequency returns the playback frequency for id. The second
// return is false when nothing should play: no identity, or one that has
// since been deleted.
func (c *Coordinator) EffectiveFrequency(id string, matched bool) (float64, bool) {
	if !matched {
		return 0, false
	}
	face, ok := c.faces.Get(id)
	if !ok {
		return 0, false
	}
	return playback(face), true
}

// Publish fills the identity fields of a published result for outcome.
func (c *Coordinator) Publish(outcome types.TickOutcome) types.Published {
	p := types.Published{Outcome: outcome.Kind.String()}
	if outcome.HasIdentity() && !math.IsInf(outcome.Distance, 0) {
		dist := outcome.Distance
		p.Distance = &dist
	}
	if !outcome.HasIdentity() {
		return p
	}

	face, ok := c.faces.Get(outcome.ID)
	if !ok {
		return p
	}
	id := face.ID
	hz := playback(face)
	p.IdentityID = &id
	p.Frequency = &hz
	p.Converted = face.Converted
	return p
}

func playback(face types.RegisteredFace) float64 {
	if face.Converted {
		return OverrideHz
	}
	return face.Frequency
}
