package kafka

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/andresmejia3/cymatic/internal/events"
	"github.com/andresmejia3/cymatic/internal/types"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

var _ = Describe("Publisher", func() {
	var (
		w *fakeWriter
		p *Publisher
	)

	BeforeEach(func() {
		w = &fakeWriter{}
		p = &Publisher{writer: w}
	})

	It("requires brokers", func() {
		_, err := NewPublisher(Config{})
		Expect(err).To(HaveOccurred())
	})

	It("builds a writer for the default topic", func() {
		pub, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(pub.writer.(*kafkago.Writer).Topic).To(Equal(DefaultTopic))
	})

	It("keys messages by identity id and encodes the event as JSON", func() {
		id, hz := "alice", 528.0
		event := events.NewTickEvent(types.Published{Tick: 3, Outcome: "matched", IdentityID: &id, Frequency: &hz, Converted: true})

		Expect(p.PublishTick(context.Background(), event)).To(Succeed())
		Expect(w.msgs).To(HaveLen(1))

		msg := w.msgs[0]
		Expect(string(msg.Key)).To(Equal("alice"))

		var decoded events.TickEvent
		Expect(json.Unmarshal(msg.Value, &decoded)).To(Succeed())
		Expect(decoded.EventID).To(Equal(event.EventID))
		Expect(*decoded.Result.Frequency).To(Equal(528.0))
		Expect(decoded.Result.Converted).To(BeTrue())
	})

	It("leaves the key empty when there is no identity", func() {
		Expect(p.PublishTick(context.Background(), events.NewTickEvent(types.Published{}))).To(Succeed())
		Expect(w.msgs[0].Key).To(BeNil())
	})

	It("carries schema headers", func() {
		msg, err := Message(events.NewTickEvent(types.Published{}))
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Headers).To(ContainElement(kafkago.Header{Key: "event_type", Value: []byte(events.EventTypeTickPublished)}))
	})

	It("rejects nil events", func() {
		Expect(p.PublishTick(context.Background(), nil)).To(MatchError(events.ErrNilEvent))
	})

	It("wraps writer failures", func() {
		w.err = errors.New("leader not available")
		err := p.PublishTick(context.Background(), events.NewTickEvent(types.Published{}))
		Expect(err).To(MatchError(ContainSubstring("leader not available")))
	})

	It("closes the writer", func() {
		Expect(p.Close()).To(Succeed())
		Expect(w.closed).To(BeTrue())
	})
})
