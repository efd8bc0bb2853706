package registry_test

import (
	"fmt"
	"math"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/andresmejia3/cymatic/internal/frequency"
	"github.com/andresmejia3/cymatic/internal/registry"
	"github.com/andresmejia3/cymatic/internal/types"
)

// seqIDs hands out face-1, face-2, ... so assertions can name ids.
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("face-%d", s.n)
}

// seqHz returns 200, 300, 400, ...
func seqHz() frequency.Generator {
	var mu sync.Mutex
	next := 100.0
	return frequency.GeneratorFunc(func() float64 {
		mu.Lock()
		defer mu.Unlock()
		next += 100
		return next
	})
}

func newTestRegistry() *registry.Registry {
	r, err := registry.New(registry.Config{
		IDs:         &seqIDs{},
		Frequencies: seqHz(),
	})
	Expect(err).NotTo(HaveOccurred())
	return r
}

func ids(r *registry.Registry) []string {
	var out []string
	for _, f := range r.Snapshot() {
		out = append(out, f.ID)
	}
	return out
}

var _ = Describe("Registry", func() {
	var (
		r  *registry.Registry
		d1 types.Descriptor
		d2 types.Descriptor
	)

	BeforeEach(func() {
		r = newTestRegistry()
		d1 = types.Descriptor{0, 0, 0}
		d2 = types.Descriptor{1, 1, 1} // ~1.73 from d1, beyond the 0.6 default
	})

	Describe("New", func() {
		It("requires a frequency generator", func() {
			_, err := registry.New(registry.Config{})
			Expect(err).To(HaveOccurred())
		})

		It("defaults the threshold", func() {
			Expect(r.Threshold()).To(Equal(0.6))
		})
	})

	Describe("Resolve", func() {
		It("registers an unknown face with converted=false", func() {
			out := r.Resolve(d1, []byte("img1"))
			Expect(out.Kind).To(Equal(types.Registered))
			Expect(out.ID).To(Equal("face-1"))
			Expect(math.IsInf(out.Distance, 1)).To(BeTrue())

			face, ok := r.Get(out.ID)
			Expect(ok).To(BeTrue())
			Expect(face.Converted).To(BeFalse())
			Expect(face.Frequency).To(Equal(200.0))
			Expect(face.Descriptors).To(HaveLen(1))
			Expect(face.Screenshot).To(Equal([]byte("img1")))
		})

		It("is idempotent for the same descriptor", func() {
			first := r.Resolve(d1, []byte("img1"))
			second := r.Resolve(d1, []byte("img1"))

			Expect(second.Kind).To(Equal(types.Matched))
			Expect(second.ID).To(Equal(first.ID))
			Expect(second.Distance).To(BeNumerically("==", 0))
			Expect(r.Len()).To(Equal(1))

			face, _ := r.Get(first.ID)
			Expect(face.Frequency).To(Equal(200.0))
			Expect(face.Descriptors).To(HaveLen(1), "matches must not accumulate descriptors")
		})

		It("creates exactly one face per unmatched descriptor with a fresh id", func() {
			a := r.Resolve(d1, nil)
			b := r.Resolve(d2, nil)

			Expect(a.ID).NotTo(Equal(b.ID))
			Expect(r.Len()).To(Equal(2))
			Expect(ids(r)).To(Equal([]string{"face-1", "face-2"}))
		})

		It("never reuses an id after delete", func() {
			gen := &reuseIDs{}
			r, err := registry.New(registry.Config{IDs: gen, Frequencies: seqHz()})
			Expect(err).NotTo(HaveOccurred())

			first := r.Resolve(d1, nil)
			r.Delete(first.ID)
			second := r.Resolve(d2, nil)

			Expect(second.ID).NotTo(Equal(first.ID))
		})

		It("copies the descriptor so callers can't mutate stored state", func() {
			out := r.Resolve(d1, nil)
			d1[0] = 42

			face, _ := r.Get(out.ID)
			Expect(face.Descriptors[0][0]).To(Equal(0.0))
		})

		It("falls back when the generator returns an invalid frequency", func() {
			r, err := registry.New(registry.Config{
				Frequencies: frequency.GeneratorFunc(func() float64 { return math.NaN() }),
			})
			Expect(err).NotTo(HaveOccurred())

			out := r.Resolve(d1, nil)
			face, _ := r.Get(out.ID)
			Expect(frequency.Valid(face.Frequency)).To(BeTrue())
		})

		It("does not double-register under concurrent resolves", func() {
			var wg sync.WaitGroup
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					r.Resolve(types.Descriptor{5, 5, 5}, nil)
				}()
			}
			wg.Wait()
			Expect(r.Len()).To(Equal(1))
		})
	})

	Describe("ToggleConversion", func() {
		It("flips exactly once per call", func() {
			out := r.Resolve(d1, nil)

			Expect(r.ToggleConversion(out.ID)).To(BeTrue())
			face, _ := r.Get(out.ID)
			Expect(face.Converted).To(BeTrue())

			Expect(r.ToggleConversion(out.ID)).To(BeTrue())
			face, _ = r.Get(out.ID)
			Expect(face.Converted).To(BeFalse())
		})

		It("never changes the stored frequency", func() {
			out := r.Resolve(d1, nil)
			r.ToggleConversion(out.ID)

			face, _ := r.Get(out.ID)
			Expect(face.Frequency).To(Equal(200.0))
		})

		It("is a no-op for an absent id", func() {
			r.Resolve(d1, nil)
			Expect(r.ToggleConversion("missing")).To(BeFalse())
			Expect(r.Len()).To(Equal(1))
		})
	})

	Describe("Delete", func() {
		It("removes one entry and preserves the order of the rest", func() {
			r.Resolve(types.Descriptor{0, 0, 0}, nil)
			r.Resolve(types.Descriptor{5, 0, 0}, nil)
			r.Resolve(types.Descriptor{10, 0, 0}, nil)

			Expect(r.Delete("face-2")).To(BeTrue())
			Expect(ids(r)).To(Equal([]string{"face-1", "face-3"}))

			Expect(r.Delete("face-2")).To(BeFalse())
			Expect(ids(r)).To(Equal([]string{"face-1", "face-3"}))
		})

		It("makes stale lookups report not found", func() {
			out := r.Resolve(d1, nil)
			r.Delete(out.ID)

			_, ok := r.Get(out.ID)
			Expect(ok).To(BeFalse())
			Expect(r.View(out.ID).CurrentID).To(BeEmpty())
		})

		It("lets a deleted face be registered again under a new id", func() {
			first := r.Resolve(d1, nil)
			r.Delete(first.ID)

			again := r.Resolve(d1, nil)
			Expect(again.Kind).To(Equal(types.Registered))
			Expect(again.ID).NotTo(Equal(first.ID))
		})
	})

	Describe("Add", func() {
		It("keeps seeded ids as-is", func() {
			err := r.Add(types.RegisteredFace{
				ID:          "alice",
				Descriptors: []types.Descriptor{d1},
				Frequency:   440,
			})
			Expect(err).NotTo(HaveOccurred())

			out := r.Resolve(d1, nil)
			Expect(out.Kind).To(Equal(types.Matched))
			Expect(out.ID).To(Equal("alice"))
		})

		It("rejects duplicates and empty descriptor sets", func() {
			face := types.RegisteredFace{ID: "alice", Descriptors: []types.Descriptor{d1}, Frequency: 440}
			Expect(r.Add(face)).To(Succeed())
			Expect(r.Add(face)).To(MatchError(registry.ErrDuplicateID))

			err := r.Add(types.RegisteredFace{ID: "bob", Frequency: 440})
			Expect(err).To(MatchError(registry.ErrEmptyDescriptors))
		})

		It("rejects invalid frequencies", func() {
			err := r.Add(types.RegisteredFace{ID: "x", Descriptors: []types.Descriptor{d1}, Frequency: -1})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("AddDescriptor", func() {
		It("lets a face match through any of its descriptors", func() {
			out := r.Resolve(d1, nil)
			Expect(r.AddDescriptor(out.ID, d2)).To(BeTrue())

			again := r.Resolve(types.Descriptor{1, 1, 1.1}, nil)
			Expect(again.Kind).To(Equal(types.Matched))
			Expect(again.ID).To(Equal(out.ID))
		})

		It("returns false for an absent face", func() {
			Expect(r.AddDescriptor("missing", d1)).To(BeFalse())
		})

		It("stops at MaxDescriptors", func() {
			capped, err := registry.New(registry.Config{
				MaxDescriptors: 2,
				Frequencies:    frequency.GeneratorFunc(func() float64 { return 300 }),
			})
			Expect(err).NotTo(HaveOccurred())

			out := capped.Resolve(d1, nil)
			Expect(capped.AddDescriptor(out.ID, d2)).To(BeTrue())
			Expect(capped.AddDescriptor(out.ID, d1)).To(BeFalse())
		})
	})

	Describe("View", func() {
		It("lists faces in insertion order with the current match", func() {
			a := r.Resolve(d1, []byte("a"))
			r.Resolve(d2, []byte("b"))
			r.ToggleConversion(a.ID)

			v := r.View(a.ID)
			Expect(v.CurrentID).To(Equal(a.ID))
			Expect(v.Faces).To(HaveLen(2))
			Expect(v.Faces[0].Converted).To(BeTrue())
			Expect(v.Faces[1].Screenshot).To(Equal([]byte("b")))
		})
	})
})

// reuseIDs returns the same id twice before moving on, simulating a
// generator that would hand out a deleted id again.
type reuseIDs struct{ n int }

func (g *reuseIDs) NewID() string {
	g.n++
	return fmt.Sprintf("id-%d", (g.n+1)/2)
}
