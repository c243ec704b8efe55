// Package poller periodically refreshes the status of every tracked user and
// pushes changes to the subscribed sessions.
package poller

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"nowplaying/internal/metrics"
	"nowplaying/internal/models"
	"nowplaying/internal/tracker"
)

// Registry is the subset of tracker.Registry the poll loop drives.
type Registry interface {
	Tracked() []string
	Publish(userID string, status models.Status) []tracker.Subscriber
}

type Poller struct {
	registry Registry
	fetch    tracker.Fetcher
	interval time.Duration

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	triggerPoll chan struct{}
	pollNotify  chan struct{}
}

func New(registry Registry, fetch tracker.Fetcher, interval time.Duration) *Poller {
	return &Poller{
		registry: registry,
		fetch:    fetch,
		interval: interval,
	}
}

func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		p.done = make(chan struct{})
		go p.run(ctx)
	})
}

func (p *Poller) Stop() {
	if p.cancel != nil && p.done != nil {
		p.cancel()
		<-p.done
	}
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		case <-p.triggerPoll:
			p.poll(ctx)
		}
	}
}

// poll runs one tick. Users are processed one after another so updates for a
// user are always published in the order they were observed.
func (p *Poller) poll(ctx context.Context) {
	start := time.Now()
	users := p.registry.Tracked()

	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		p.update(ctx, userID)
	}
	metrics.PollDuration.Observe(time.Since(start).Seconds())

	if p.pollNotify != nil {
		select {
		case p.pollNotify <- struct{}{}:
		default:
		}
	}
}

func (p *Poller) update(ctx context.Context, userID string) {
	status, err := p.fetch.Status(ctx, userID)
	if errors.Is(err, tracker.ErrUnauthorized) {
		// Sessions stay subscribed; the user may authorize again.
		return
	}
	if err != nil {
		log.Printf("polling status for %s: %v", userID, err)
		return
	}

	subs := p.registry.Publish(userID, status)
	if len(subs) == 0 {
		return
	}
	metrics.StatusUpdates.Inc()
	for _, s := range subs {
		s.SendStatus(status)
	}
}
