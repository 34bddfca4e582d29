package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/tidewatch/internal/observation"
	"github.com/roach88/tidewatch/internal/tsdb"
)

// ErrRejected is returned by Publisher for scripted publish failures.
var ErrRejected = errors.New("fake store rejected write")

// ErrStoreDown is returned by Publisher.Anchor while AnchorDown is set.
var ErrStoreDown = errors.New("fake store unreachable")

// Publisher is an in-memory store. Its anchor is the newest observation
// published so far (or the initial anchor).
type Publisher struct {
	mu    sync.Mutex
	trace *Trace

	anchor    observation.Anchor
	empty     bool
	published []observation.Observation

	// Failures maps a sequence number to how many more publishes of it
	// must fail.
	Failures map[int64]int

	// AnchorDown makes anchor queries fail.
	AnchorDown bool
}

// NewPublisher returns a store whose anchor starts at anchor.
func NewPublisher(trace *Trace, anchor observation.Anchor) *Publisher {
	return &Publisher{trace: trace, anchor: anchor, Failures: make(map[int64]int)}
}

// NewEmptyPublisher returns a store holding nothing: Anchor reports
// tsdb.ErrNoData until the first successful publish.
func NewEmptyPublisher(trace *Trace) *Publisher {
	return &Publisher{trace: trace, empty: true, Failures: make(map[int64]int)}
}

// FailNext makes the next n publishes of seq fail.
func (p *Publisher) FailNext(seq int64, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Failures[seq] += n
}

// Publish records o unless a failure is scripted for its sequence number.
func (p *Publisher) Publish(ctx context.Context, o observation.Observation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Failures[o.Seq] > 0 {
		p.Failures[o.Seq]--
		p.trace.Addf("publish: seq %d failed", o.Seq)
		return ErrRejected
	}
	p.published = append(p.published, o)
	if p.empty || o.Timestamp.After(p.anchor.Timestamp) {
		p.empty = false
		p.anchor = observation.Anchor{Timestamp: o.Timestamp, Seq: o.Seq}
	}
	p.trace.Addf("publish: seq %d", o.Seq)
	return nil
}

// Anchor returns the newest published record.
func (p *Publisher) Anchor(ctx context.Context) (observation.Anchor, error) {
	if err := ctx.Err(); err != nil {
		return observation.Anchor{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AnchorDown {
		return observation.Anchor{}, ErrStoreDown
	}
	if p.empty {
		return observation.Anchor{}, tsdb.ErrNoData
	}
	return p.anchor, nil
}

// Published returns every accepted observation in publish order.
func (p *Publisher) Published() []observation.Observation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]observation.Observation(nil), p.published...)
}

// PublishedSeqs returns the sequence numbers of Published.
func (p *Publisher) PublishedSeqs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	seqs := make([]int64, 0, len(p.published))
	for _, o := range p.published {
		seqs = append(seqs, o.Seq)
	}
	return seqs
}
