package stream

import (
	"context"
	"time"
)

// ScriptAdapter replays a fixed event script per model for offline use and
// tests. A script without a terminal event is finished with done.
type ScriptAdapter struct {
	// Scripts maps model id to the events to replay.
	Scripts map[string][]Event
	// Delay is inserted before each event when set.
	Delay time.Duration
	// Hold, when non-nil, is closed by the test to release the stream after
	// the script's non-terminal events have been delivered.
	Hold map[string]chan struct{}
}

func (s *ScriptAdapter) Open(ctx context.Context, req Request) (<-chan Event, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)
	script := s.Scripts[req.Model.ID]
	em := newEmitter(ctx, len(script)+1)
	go func() {
		hold, holding := s.Hold[req.Model.ID]
		for _, ev := range script {
			if s.Delay > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(s.Delay):
				}
			}
			if holding && ev.Terminal() {
				holding = false
				select {
				case <-hold:
				case <-ctx.Done():
				}
			}
			if !em.send(ev) {
				return
			}
		}
		if holding {
			select {
			case <-hold:
			case <-ctx.Done():
			}
		}
		em.finish(nil)
	}()
	return em.ch, cancel, nil
}
