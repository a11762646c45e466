package tools

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Guarded invokes fn and converts a panic into a log line so a single
// failure never kills the calling worker.
func Guarded(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task", name).Any("panic", r).Msg("guarded task panicked")
		}
	}()
	fn()
}

// PeriodicTask runs fn on a fixed interval until the context is cancelled.
// Every tick is guarded.
type PeriodicTask struct {
	Name     string
	Interval time.Duration
	// Immediate fires the first tick right away instead of waiting one interval.
	Immediate bool

	cancel context.CancelFunc
	done   chan struct{}
}

func (p *PeriodicTask) Start(fn func()) {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()
		if p.Immediate {
			Guarded(p.Name, fn)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				Guarded(p.Name, fn)
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (p *PeriodicTask) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}
