package dispatcher

import (
	"context"

	"github.com/garyjia/bi-workflow/internal/domain/event"
)

// Handler reacts to one workflow event. Returned errors are logged by the
// dispatcher and never reach the engine call that emitted the event.
type Handler func(ctx context.Context, evt *event.Event) error

// AnyType subscribes a handler to every event type
const AnyType event.Type = "*"

// HandlerInfo is one subscription
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}
