package metrics

import (
	"context"

	"github.com/normanking/fairy/internal/agent"
	"github.com/normanking/fairy/internal/bus"
)

// Collector turns bus events into metric updates.
type Collector struct {
	bus     *bus.Bus
	metrics *Metrics
	subs    []bus.SubscriptionID
}

// NewCollector creates a collector. Call Start to begin listening.
func NewCollector(b *bus.Bus, m *Metrics) *Collector {
	return &Collector{bus: b, metrics: m}
}

// Start subscribes to the events the collector tracks.
func (c *Collector) Start() {
	if c.bus == nil {
		return
	}
	for _, t := range []bus.EventType{
		bus.EventClientConnected,
		bus.EventClientDisconnected,
		bus.EventCommandReceived,
		bus.EventTranscript,
		bus.EventRunFinished,
		bus.EventRunFailed,
	} {
		if id := c.bus.Subscribe(t, c.handle); id != "" {
			c.subs = append(c.subs, id)
		}
	}
}

// Stop removes the subscriptions.
func (c *Collector) Stop() {
	for _, id := range c.subs {
		c.bus.Unsubscribe(id)
	}
	c.subs = nil
}

func (c *Collector) handle(e bus.Event) {
	m := c.metrics
	switch e.Type {
	case bus.EventClientConnected:
		m.ConnectedClients.Inc()
	case bus.EventClientDisconnected:
		m.ConnectedClients.Dec()
	case bus.EventCommandReceived:
		m.CommandCount.WithLabelValues("text").Inc()
	case bus.EventTranscript:
		m.CommandCount.WithLabelValues("audio").Inc()
	case bus.EventRunFinished:
		m.RunCount.WithLabelValues(e.State).Inc()
		m.RunSteps.Observe(float64(e.Steps))
	case bus.EventRunFailed:
		m.RunCount.WithLabelValues("ERROR").Inc()
	}
}

// instrumentedMemory counts store and retrieve calls.
type instrumentedMemory struct {
	next    agent.Memory
	metrics *Metrics
}

// InstrumentMemory wraps mem so its calls are counted by outcome.
func InstrumentMemory(mem agent.Memory, m *Metrics) agent.Memory {
	return &instrumentedMemory{next: mem, metrics: m}
}

func (i *instrumentedMemory) Store(ctx context.Context, text string, meta map[string]string) error {
	err := i.next.Store(ctx, text, meta)
	i.count("store", err)
	return err
}

func (i *instrumentedMemory) Retrieve(ctx context.Context, query string, n int) ([]string, error) {
	out, err := i.next.Retrieve(ctx, query, n)
	i.count("retrieve", err)
	return out, err
}

func (i *instrumentedMemory) count(op string, err error) {
	if err != nil {
		op += "_error"
	}
	i.metrics.MemoryOperations.WithLabelValues(op).Inc()
}
