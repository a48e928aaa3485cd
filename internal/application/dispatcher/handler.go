package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/garyjia/loan-workflow/internal/domain/event"
)

// Handler reacts to one workflow or committee event
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo is a snapshot of one subscription. Delivered counts every
// event handed to the handler; Failed counts the errors and panics among
// them, so a decision handler that keeps giving up on applications shows
// up here before anyone reads the logs.
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Delivered uint64
	Failed    uint64
}

type subscription struct {
	name      string
	eventType event.Type
	handler   Handler

	delivered atomic.Uint64
	failed    atomic.Uint64
}

// run calls the handler, turning a panic into an error
func (s *subscription) run(ctx context.Context, evt *event.Event) (err error) {
	s.delivered.Add(1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
		if err != nil {
			s.failed.Add(1)
		}
	}()

	return s.handler(ctx, evt)
}

func (s *subscription) info() HandlerInfo {
	return HandlerInfo{
		Name:      s.name,
		EventType: s.eventType,
		Delivered: s.delivered.Load(),
		Failed:    s.failed.Load(),
	}
}
