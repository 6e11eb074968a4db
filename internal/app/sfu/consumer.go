package sfu

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/okonek/chorus/internal/core"
)

// Consumer is one peer's subscription to a producer: a local static RTP
// track attached to the producer's forward loop plus the sender carrying it.
type Consumer struct {
	id       core.ConsumerID
	producer *Producer
	sender   *webrtc.RTPSender
	out      *outTrack

	once sync.Once
}

func newConsumer(producer *Producer, sender *webrtc.RTPSender, track *webrtc.TrackLocalStaticRTP) *Consumer {
	c := &Consumer{
		id:       core.ConsumerID(uuid.NewString()),
		producer: producer,
		sender:   sender,
		out:      newOutTrack(track),
	}
	producer.attach(c.id, c.out)
	return c
}

func (c *Consumer) ID() core.ConsumerID { return c.id }

func (c *Consumer) Info() core.ConsumerInfo {
	params := c.sender.GetParameters()
	return core.ConsumerInfo{
		ID:            c.id,
		ProducerID:    c.producer.ID(),
		Kind:          c.producer.Kind(),
		RTPParameters: params.RTPParameters,
	}
}

func (c *Consumer) Close() {
	c.once.Do(func() {
		c.producer.detach(c.id)
		_ = c.sender.Stop()
	})
}
