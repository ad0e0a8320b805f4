// Package storage implements the columnar storage sink of spec.md §4.10:
// one buffered file per (symbol, type, date) partition, flushed eagerly at
// a configurable depth or periodically by a background ticker.
//
// Grounded on the teacher's buffer.go (size-classed sync.Pool) and
// replay_buffer.go (per-key buffering with a capacity and an eviction
// rule) generalized from per-client replay buffers to per-partition write
// buffers, and on capacity.go's StartMonitoring ticker goroutine for the
// periodic flusher shape.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketfeed/internal/event"
)

// DefaultBufferCapacity is the per-partition event count at which a buffer
// flushes eagerly, ahead of the periodic flusher (spec.md §4.10).
const DefaultBufferCapacity = 10000

// DefaultFlushInterval is how often the background flusher sweeps every
// partition (spec.md §4.10); actual ticks are jittered ±10% (spec.md §9).
const DefaultFlushInterval = 30 * time.Second

type partitionKey struct {
	Symbol string
	Type   string
	Source string
	Date   string
}

type partitionBuffer struct {
	mu     sync.Mutex
	events []event.MarketEvent
}

// Option configures a Sink at construction.
type Option func(*Sink)

// WithLayout selects the path layout (default LayoutHierarchical).
func WithLayout(l Layout) Option { return func(s *Sink) { s.layout = l } }

// WithCodec selects the compression codec (default CodecNone).
func WithCodec(c Codec) Option { return func(s *Sink) { s.codec = c } }

// WithDatePartition selects the date-bucketing granularity (default DateDaily).
func WithDatePartition(d DatePartition) Option { return func(s *Sink) { s.datePartition = d } }

// WithBufferCapacity overrides DefaultBufferCapacity.
func WithBufferCapacity(n int) Option { return func(s *Sink) { s.bufferCapacity = n } }

// WithFlushInterval overrides DefaultFlushInterval.
func WithFlushInterval(d time.Duration) Option { return func(s *Sink) { s.flushInterval = d } }

// WithAssetClass sets the fixed asset class tag used by LayoutByAssetClass.
func WithAssetClass(assetClass string) Option { return func(s *Sink) { s.assetClass = assetClass } }

// WithLogger attaches a structured logger.
func WithLogger(log zerolog.Logger) Option { return func(s *Sink) { s.log = log } }

// Publisher is the minimal slice of publish.Publisher the sink needs to
// raise an Integrity event on catastrophic flush failure (spec.md §7). A
// local interface so this package doesn't need to import internal/publish.
type Publisher interface {
	TryPublish(evt event.MarketEvent) bool
}

// WithIntegrityPublisher attaches the Publisher a flush failure's Integrity
// event is raised on. Without one, flush failures are only logged.
func WithIntegrityPublisher(pub Publisher) Option {
	return func(s *Sink) { s.integrityPub = pub }
}

// Sink buffers MarketEvents per partition and flushes them to columnar
// files under root. Safe for concurrent Append calls from many producers.
type Sink struct {
	root           string
	layout         Layout
	codec          Codec
	datePartition  DatePartition
	bufferCapacity int
	flushInterval  time.Duration
	assetClass     string
	log            zerolog.Logger
	integrityPub   Publisher

	mu         sync.Mutex // guards partitions map structure only
	partitions map[partitionKey]*partitionBuffer

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Sink rooted at dir with the given options applied over the
// package defaults.
func New(dir string, opts ...Option) *Sink {
	s := &Sink{
		root:           dir,
		layout:         LayoutHierarchical,
		codec:          noneCodec{},
		datePartition:  DateDaily,
		bufferCapacity: DefaultBufferCapacity,
		flushInterval:  DefaultFlushInterval,
		log:            zerolog.Nop(),
		partitions:     make(map[partitionKey]*partitionBuffer),
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sink) keyFor(evt event.MarketEvent) partitionKey {
	return partitionKey{
		Symbol: evt.Symbol,
		Type:   string(evt.Type),
		Source: evt.Source,
		Date:   s.datePartition.Bucket(evt.Timestamp),
	}
}

func (s *Sink) bufferFor(key partitionKey) *partitionBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	pb, ok := s.partitions[key]
	if !ok {
		pb = &partitionBuffer{}
		s.partitions[key] = pb
	}
	return pb
}

// Append adds evt to its partition's buffer, flushing eagerly if the
// partition has reached bufferCapacity.
func (s *Sink) Append(evt event.MarketEvent) error {
	key := s.keyFor(evt)
	pb := s.bufferFor(key)

	pb.mu.Lock()
	pb.events = append(pb.events, evt)
	full := len(pb.events) >= s.bufferCapacity
	pb.mu.Unlock()

	if full {
		return s.flushPartition(key, pb)
	}
	return nil
}

// flushPartition serializes one partition's buffered events into a single
// row-group file and clears the buffer. Distinct (symbol, type, date)
// partitions never share a file (spec.md §4.10). Any failure raises an
// Integrity event (IntegrityFlushFailure) on s.integrityPub, if set, in
// addition to being returned to the caller (spec.md §7).
func (s *Sink) flushPartition(key partitionKey, pb *partitionBuffer) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if len(pb.events) == 0 {
		return nil
	}

	path := s.layout.Path(PathParams{
		Root: s.root, Source: key.Source, Symbol: key.Symbol, Type: key.Type,
		AssetClass: s.assetClass, Date: key.Date, Ext: s.codec.Extension(),
	})
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		err = fmt.Errorf("storage: create partition directory for %q: %w", path, err)
		s.emitIntegrityFlushFailure(key, err)
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		err = fmt.Errorf("storage: create partition file %q: %w", path, err)
		s.emitIntegrityFlushFailure(key, err)
		return err
	}
	defer f.Close()

	w, err := s.codec.NewWriter(f)
	if err != nil {
		err = fmt.Errorf("storage: open %s writer for %q: %w", s.codec.Name(), path, err)
		s.emitIntegrityFlushFailure(key, err)
		return err
	}

	enc := json.NewEncoder(w)
	for _, evt := range pb.events {
		if err := enc.Encode(rowFor(evt)); err != nil {
			w.Close()
			err = fmt.Errorf("storage: encode row into %q: %w", path, err)
			s.emitIntegrityFlushFailure(key, err)
			return err
		}
	}
	if err := w.Close(); err != nil {
		err = fmt.Errorf("storage: finalize %s stream for %q: %w", s.codec.Name(), path, err)
		s.emitIntegrityFlushFailure(key, err)
		return err
	}

	s.log.Debug().Str("path", path).Int("rows", len(pb.events)).Msg("flushed partition")
	pb.events = pb.events[:0]
	return nil
}

// emitIntegrityFlushFailure raises an IntegrityFlushFailure event for key's
// partition. A no-op if no integrity publisher was configured.
func (s *Sink) emitIntegrityFlushFailure(key partitionKey, err error) {
	if s.integrityPub == nil {
		return
	}
	evt := event.NewIntegrity(key.Source, key.Symbol, event.Integrity{
		Reason: event.IntegrityFlushFailure,
		Detail: err.Error(),
	})
	s.integrityPub.TryPublish(evt)
}

// FlushAll flushes every partition with buffered events, regardless of
// depth. Used both by the periodic flusher and for an orderly shutdown.
func (s *Sink) FlushAll() error {
	s.mu.Lock()
	keys := make([]partitionKey, 0, len(s.partitions))
	bufs := make([]*partitionBuffer, 0, len(s.partitions))
	for k, pb := range s.partitions {
		keys = append(keys, k)
		bufs = append(bufs, pb)
	}
	s.mu.Unlock()

	var firstErr error
	for i, key := range keys {
		if err := s.flushPartition(key, bufs[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StartFlusher runs the periodic background flusher until Stop is called or
// ctx is canceled. Each tick is jittered ±10% of flushInterval (spec.md §9)
// so that many sinks started at once don't flush in lockstep.
func (s *Sink) StartFlusher(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			wait := jitter(s.flushInterval)
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
				if err := s.FlushAll(); err != nil {
					s.log.Error().Err(err).Msg("periodic flush failed")
				}
			case <-s.stopCh:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
}

// Stop halts the periodic flusher and waits for it to exit. It does not
// flush remaining buffers; call FlushAll first if that's required.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	delta := float64(base) * 0.1
	offset := (rand.Float64()*2 - 1) * delta
	return base + time.Duration(offset)
}
