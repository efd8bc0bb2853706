package tone

import (
	"sync"

	"github.com/andresmejia3/cymatic/internal/types"
)

// Resolver answers what should play for an identity.
type Resolver interface {
	EffectiveFrequency(id string, matched bool) (float64, bool)
}

// Setter receives tone changes.
type Setter interface {
	Set(hz float64, ok bool)
}

// Follower keeps a Setter on the frequency of the latest published identity.
// Published results drive it; Refresh re-evaluates after UI actions so a
// toggle or delete of the current face is heard immediately.
type Follower struct {
	out      Setter
	resolver Resolver

	mu      sync.Mutex
	current string
}

func NewFollower(out Setter, resolver Resolver) *Follower {
	return &Follower{out: out, resolver: resolver}
}

// Notify implements the scheduler's Subscriber.
func (f *Follower) Notify(p types.Published) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p.IdentityID == nil || p.Frequency == nil {
		f.current = ""
		f.out.Set(0, false)
		return
	}
	f.current = *p.IdentityID
	f.out.Set(*p.Frequency, true)
}

// Refresh recomputes the tone for the current identity.
func (f *Follower) Refresh() {
	f.mu.Lock()
	defer f.mu.Unlock()

	hz, ok := f.resolver.EffectiveFrequency(f.current, f.current != "")
	f.out.Set(hz, ok)
}
