package registry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"marketfeed/internal/event"
	"marketfeed/internal/publish"
)

// DefaultSubjectPrefix is prepended to every event type to form the NATS
// subject a Republisher publishes on, e.g. "marketfeed.trade".
const DefaultSubjectPrefix = "marketfeed"

// Republisher is the "unified event pipe" piece of C14: it drains one
// publish.Subscriber — fed by whichever legacy or new clients the registry
// wired into the shared publish.Publisher — and forwards every event onto
// NATS, so downstream consumers never need to know how many providers, or
// which generation of provider, produced it.
//
// Grounded on the teacher's server.go nats.Connect/MaxReconnects/
// ReconnectWait setup. The teacher's own NATS usage is JetStream, but only
// for inbound consumption with manual acks — a different concern from this
// fire-and-forget outbound tap, so Republisher publishes with plain
// nats.Conn.Publish rather than pulling in JetStream stream/ack management
// it has no use for.
type Republisher struct {
	nc            *nats.Conn
	subjectPrefix string
	log           zerolog.Logger

	sub *publish.Subscriber

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// RepublisherOption configures a Republisher at construction.
type RepublisherOption func(*Republisher)

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) RepublisherOption {
	return func(r *Republisher) { r.subjectPrefix = prefix }
}

// WithLogger attaches a logger; the zero value is a disabled logger.
func WithLogger(log zerolog.Logger) RepublisherOption {
	return func(r *Republisher) { r.log = log }
}

// NewRepublisher connects to natsURL and subscribes to pub under
// subscriberID, mirroring the teacher's reconnect posture (5 reconnect
// attempts, 2s wait between them).
func NewRepublisher(natsURL, subscriberID string, pub *publish.Publisher, opts ...RepublisherOption) (*Republisher, error) {
	nc, err := nats.Connect(natsURL, nats.MaxReconnects(5), nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("registry: connect to nats: %w", err)
	}

	r := &Republisher{
		nc:            nc,
		subjectPrefix: DefaultSubjectPrefix,
		sub:           pub.Subscribe(subscriberID, 0),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Subject returns the NATS subject an event of typ is published on.
func (r *Republisher) Subject(typ event.Type) string {
	return r.subjectPrefix + "." + string(typ)
}

// Start begins draining the subscriber and publishing to NATS in a
// background goroutine. Call Stop to shut it down.
func (r *Republisher) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Republisher) run() {
	defer r.wg.Done()
	for {
		select {
		case evt, ok := <-r.sub.Events():
			if !ok {
				return
			}
			r.publish(evt)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Republisher) publish(evt event.MarketEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		r.log.Error().Err(err).Str("symbol", evt.Symbol).Msg("republisher: marshal event")
		return
	}
	if err := r.nc.Publish(r.Subject(evt.Type), payload); err != nil {
		r.log.Error().Err(err).Str("subject", r.Subject(evt.Type)).Msg("republisher: nats publish")
	}
}

// Stop halts the drain goroutine and closes the NATS connection. Safe to
// call more than once.
func (r *Republisher) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
		r.nc.Close()
	})
}
