package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/andresmejia3/cymatic/internal/events"
	"github.com/andresmejia3/cymatic/internal/types"
)

func published(id string, hz float64) types.Published {
	return types.Published{
		Tick:       7,
		Outcome:    "matched",
		IdentityID: &id,
		Frequency:  &hz,
		EmittedAt:  time.Unix(1735689600, 0),
	}
}

var _ = Describe("TickEvent", func() {
	It("marshals with expected top-level keys", func() {
		payload, err := json.Marshal(events.NewTickEvent(published("alice", 440)))
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())
		Expect(got).To(HaveKey("schema_version"))
		Expect(got).To(HaveKey("event_type"))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKey("emitted_at"))
		Expect(got).To(HaveKey("result"))

		result := got["result"].(map[string]any)
		Expect(result["identity_id"]).To(Equal("alice"))
		Expect(result["frequency"]).To(BeNumerically("==", 440))
		Expect(result["distance"]).To(BeNil())
	})

	It("gives every event a unique id", func() {
		a := events.NewTickEvent(published("alice", 440))
		b := events.NewTickEvent(published("alice", 440))
		Expect(a.EventID).NotTo(Equal(b.EventID))
	})

	It("keys by identity id", func() {
		Expect(events.NewTickEvent(published("alice", 440)).Key()).To(Equal("alice"))
		Expect(events.NewTickEvent(types.Published{}).Key()).To(BeEmpty())
	})

	It("stamps the emit time when the result has none", func() {
		e := events.NewTickEvent(types.Published{})
		Expect(e.EmittedAt).NotTo(BeZero())
	})

	It("defines stable event constants", func() {
		Expect(events.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(events.EventTypeTickPublished).To(Equal("cymatic.tick.published"))
		Expect(events.ErrNilEvent).To(MatchError("nil tick event"))
	})
})

type recordingPublisher struct {
	mu     sync.Mutex
	got    []*events.TickEvent
	gate   chan struct{}
	err    error
	closed bool
}

func (r *recordingPublisher) PublishTick(_ context.Context, e *events.TickEvent) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e)
	return r.err
}

func (r *recordingPublisher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

var _ = Describe("Async", func() {
	It("forwards notified results to the publisher in order", func() {
		pub := &recordingPublisher{}
		a := events.NewAsync(events.AsyncConfig{Publisher: pub})

		a.Notify(published("alice", 440))
		a.Notify(published("bob", 330))
		Expect(a.Close()).To(Succeed())

		Expect(pub.got).To(HaveLen(2))
		Expect(pub.got[0].Key()).To(Equal("alice"))
		Expect(pub.got[1].Key()).To(Equal("bob"))
		Expect(pub.closed).To(BeTrue())
	})

	It("drops instead of blocking when the queue is full", func() {
		pub := &recordingPublisher{gate: make(chan struct{})}
		a := events.NewAsync(events.AsyncConfig{Publisher: pub, QueueSize: 1})

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 10; i++ {
				a.Notify(published("alice", 440))
			}
		}()
		Eventually(done).Should(BeClosed())
		Expect(a.Dropped()).To(BeNumerically(">=", 8))

		close(pub.gate)
		Expect(a.Close()).To(Succeed())
		Expect(uint64(pub.count()) + a.Dropped()).To(Equal(uint64(10)))
	})

	It("keeps going after a publish failure", func() {
		pub := &recordingPublisher{err: errors.New("broker down")}
		a := events.NewAsync(events.AsyncConfig{Publisher: pub})

		a.Notify(published("alice", 440))
		a.Notify(published("alice", 440))
		Expect(a.Close()).To(Succeed())
		Expect(pub.count()).To(Equal(2))
	})

	It("ignores notifications and repeated closes after Close", func() {
		pub := &recordingPublisher{}
		a := events.NewAsync(events.AsyncConfig{Publisher: pub})
		Expect(a.Close()).To(Succeed())
		Expect(a.Close()).To(Succeed())

		a.Notify(published("alice", 440))
		Expect(pub.count()).To(BeZero())
	})
})
