package tone_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/andresmejia3/cymatic/internal/frequency"
	"github.com/andresmejia3/cymatic/internal/registry"
	"github.com/andresmejia3/cymatic/internal/tone"
	"github.com/andresmejia3/cymatic/internal/types"
)

func samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func peak(s []int16) int {
	m := 0
	for _, v := range s {
		a := int(v)
		if a < 0 {
			a = -a
		}
		if a > m {
			m = a
		}
	}
	return m
}

// zeroCrossings counts sign changes from negative to non-negative.
func zeroCrossings(s []int16) int {
	n := 0
	for i := 1; i < len(s); i++ {
		if s[i-1] < 0 && s[i] >= 0 {
			n++
		}
	}
	return n
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

var _ = Describe("Synth", func() {
	It("renders silence when off", func() {
		s := tone.NewSynth(8000)
		pcm := s.Render(440, false, 800)
		Expect(pcm).To(HaveLen(1600))
		Expect(peak(samples(pcm))).To(Equal(0))
	})

	It("renders a sine at the requested frequency", func() {
		s := tone.NewSynth(8000)
		s.Render(440, true, 800) // past the ramp
		pcm := samples(s.Render(440, true, 8000))

		Expect(zeroCrossings(pcm)).To(BeNumerically("~", 440, 2))
		Expect(peak(pcm)).To(BeNumerically("~", 16000, 50))
	})

	It("ramps instead of jumping to full amplitude", func() {
		s := tone.NewSynth(8000)
		first := samples(s.Render(1000, true, 8))
		Expect(peak(first)).To(BeNumerically("<", 2000))
	})

	It("fades out after being switched off", func() {
		s := tone.NewSynth(8000)
		s.Render(440, true, 800)
		s.Render(440, false, 800)
		Expect(peak(samples(s.Render(440, false, 800)))).To(Equal(0))
	})

	It("keeps the waveform continuous across chunks", func() {
		s := tone.NewSynth(8000)
		s.Render(220, true, 800)
		a := samples(s.Render(220, true, 100))
		b := samples(s.Render(220, true, 100))

		// One sample step of a 220 Hz sine at 8 kHz moves at most ~2800.
		Expect(int(b[0]) - int(a[len(a)-1])).To(BeNumerically("~", 0, 3000))
	})
})

var _ = Describe("Player", func() {
	It("tracks the selected tone", func() {
		p := tone.NewPlayer(tone.Config{})
		hz, on := p.Current()
		Expect(on).To(BeFalse())
		Expect(hz).To(BeZero())

		p.Set(261.63, true)
		hz, on = p.Current()
		Expect(on).To(BeTrue())
		Expect(hz).To(Equal(261.63))
	})

	It("renders chunks of the configured length", func() {
		p := tone.NewPlayer(tone.Config{SampleRate: 8000, Chunk: 100 * time.Millisecond})
		Expect(p.Next()).To(HaveLen(1600))
	})

	It("streams into a writer until cancelled", func() {
		p := tone.NewPlayer(tone.Config{SampleRate: 8000, Chunk: 10 * time.Millisecond})
		p.Set(440, true)
		out := &lockedBuffer{}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx, out) }()

		Eventually(out.Len).Should(BeNumerically(">=", 3*160))
		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("stops on a write failure", func() {
		p := tone.NewPlayer(tone.Config{Chunk: 10 * time.Millisecond})
		err := p.Run(context.Background(), failingWriter{})
		Expect(err).To(MatchError(ContainSubstring("broken pipe")))
	})

	It("rejects an empty player command", func() {
		p := tone.NewPlayer(tone.Config{})
		_, _, err := p.Start(context.Background(), "  ")
		Expect(err).To(HaveOccurred())
	})
})

type recordingSetter struct {
	hz float64
	on bool
	n  int
}

func (r *recordingSetter) Set(hz float64, ok bool) {
	r.hz, r.on = hz, ok
	r.n++
}

var _ = Describe("Follower", func() {
	var (
		reg *registry.Registry
		out *recordingSetter
		f   *tone.Follower
	)

	BeforeEach(func() {
		var err error
		reg, err = registry.New(registry.Config{
			Frequencies: frequency.GeneratorFunc(func() float64 { return 330 }),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(reg.Add(types.RegisteredFace{
			ID:          "alice",
			Descriptors: []types.Descriptor{{0, 0}},
			Frequency:   330,
		})).To(Succeed())

		out = &recordingSetter{}
		f = tone.NewFollower(out, frequency.NewCoordinator(reg))
	})

	published := func(id string, hz float64) types.Published {
		return types.Published{Outcome: types.Matched.String(), IdentityID: &id, Frequency: &hz}
	}

	It("plays the published frequency", func() {
		f.Notify(published("alice", 330))
		Expect(out.on).To(BeTrue())
		Expect(out.hz).To(Equal(330.0))
	})

	It("goes silent when a result carries no identity", func() {
		f.Notify(published("alice", 330))
		f.Notify(types.Published{Outcome: types.Registered.String()})
		Expect(out.on).To(BeFalse())
	})

	It("switches to the override after a conversion", func() {
		f.Notify(published("alice", 330))
		Expect(reg.ToggleConversion("alice")).To(BeTrue())

		f.Refresh()
		Expect(out.on).To(BeTrue())
		Expect(out.hz).To(Equal(frequency.OverrideHz))
	})

	It("goes silent when the current identity is deleted", func() {
		f.Notify(published("alice", 330))
		Expect(reg.Delete("alice")).To(BeTrue())

		f.Refresh()
		Expect(out.on).To(BeFalse())
	})

	It("stays silent on refresh with no current identity", func() {
		f.Refresh()
		Expect(out.on).To(BeFalse())
	})
})
