// Package coretest provides an in-memory engine implementation with
// deterministic ids and close tracking, for exercising the coordinator
// without a real media stack.
package coretest

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/okonek/chorus/internal/core"
)

func DefaultCapabilities() webrtc.RTPCapabilities {
	return webrtc.RTPCapabilities{
		Codecs: []webrtc.RTPCodecCapability{{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		}},
	}
}

type Worker struct {
	Name string

	mu      sync.Mutex
	fatal   func(error)
	routers []*Router
	seq     int
	Closed  bool

	// RouterErr makes NewRouter fail, for engine-failure paths.
	RouterErr error
}

func NewWorker(name string) *Worker {
	return &Worker{Name: name}
}

func (w *Worker) NewRouter(ctx context.Context) (core.EngineRouter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.RouterErr != nil {
		return nil, w.RouterErr
	}
	w.seq++
	r := &Router{name: fmt.Sprintf("%s-router%d", w.Name, w.seq)}
	w.routers = append(w.routers, r)
	return r, nil
}

func (w *Worker) OnFatal(fn func(error)) {
	w.mu.Lock()
	w.fatal = fn
	w.mu.Unlock()
}

// Fail simulates the worker dying.
func (w *Worker) Fail(err error) {
	w.mu.Lock()
	fn := w.fatal
	w.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (w *Worker) Close() {
	w.mu.Lock()
	w.Closed = true
	w.mu.Unlock()
}

// Routers returns every router this worker created.
func (w *Worker) Routers() []*Router {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Router, len(w.routers))
	copy(out, w.routers)
	return out
}

type Router struct {
	name string

	mu     sync.Mutex
	seq    int
	Closed bool

	// Incompatible forces CanConsume to report false.
	Incompatible bool
	// TransportErr makes CreateTransport fail.
	TransportErr error
}

func (r *Router) Capabilities() webrtc.RTPCapabilities { return DefaultCapabilities() }

func (r *Router) CreateTransport(ctx context.Context) (core.EngineTransport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.TransportErr != nil {
		return nil, r.TransportErr
	}
	r.seq++
	return &Transport{
		id:     core.TransportID(fmt.Sprintf("%s-t%d", r.name, r.seq)),
		router: r,
	}, nil
}

func (r *Router) CanConsume(producer core.EngineProducer, caps webrtc.RTPCapabilities) bool {
	if r.Incompatible {
		return false
	}
	return len(caps.Codecs) > 0
}

func (r *Router) Close() {
	r.mu.Lock()
	r.Closed = true
	r.mu.Unlock()
}

type Transport struct {
	id     core.TransportID
	router *Router

	mu        sync.Mutex
	seq       int
	Connected bool
	Closed    bool

	// ConnectErr / ProduceErr / ConsumeErr force the matching call to fail.
	ConnectErr error
	ProduceErr error
	ConsumeErr error
}

func (t *Transport) ID() core.TransportID { return t.id }

func (t *Transport) Info() core.TransportInfo {
	return core.TransportInfo{ID: t.id}
}

func (t *Transport) Connect(ctx context.Context, params core.ConnectParams) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ConnectErr != nil {
		return t.ConnectErr
	}
	t.Connected = true
	return nil
}

func (t *Transport) Produce(ctx context.Context, params core.ProduceParams) (core.EngineProducer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ProduceErr != nil {
		return nil, t.ProduceErr
	}
	t.seq++
	return &Producer{
		id:   core.ProducerID(fmt.Sprintf("%s-p%d", t.id, t.seq)),
		kind: params.Kind,
	}, nil
}

func (t *Transport) Consume(ctx context.Context, producer core.EngineProducer, caps webrtc.RTPCapabilities) (core.EngineConsumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ConsumeErr != nil {
		return nil, t.ConsumeErr
	}
	t.seq++
	return &Consumer{
		id:       core.ConsumerID(fmt.Sprintf("%s-c%d", t.id, t.seq)),
		producer: producer,
	}, nil
}

func (t *Transport) Close() {
	t.mu.Lock()
	t.Closed = true
	t.mu.Unlock()
}

func (t *Transport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

type Producer struct {
	id   core.ProducerID
	kind string

	mu     sync.Mutex
	Closed bool
	Paused bool
}

func (p *Producer) ID() core.ProducerID { return p.id }

func (p *Producer) Pause(paused bool) {
	p.mu.Lock()
	p.Paused = paused
	p.mu.Unlock()
}

func (p *Producer) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Paused
}

func (p *Producer) Kind() string {
	if p.kind == "" {
		return "audio"
	}
	return p.kind
}

func (p *Producer) Close() {
	p.mu.Lock()
	p.Closed = true
	p.mu.Unlock()
}

func (p *Producer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Closed
}

type Consumer struct {
	id       core.ConsumerID
	producer core.EngineProducer

	mu     sync.Mutex
	Closed bool
}

func (c *Consumer) ID() core.ConsumerID { return c.id }

func (c *Consumer) Info() core.ConsumerInfo {
	return core.ConsumerInfo{
		ID:         c.id,
		ProducerID: c.producer.ID(),
		Kind:       c.producer.Kind(),
	}
}

func (c *Consumer) Close() {
	c.mu.Lock()
	c.Closed = true
	c.mu.Unlock()
}

func (c *Consumer) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Closed
}
