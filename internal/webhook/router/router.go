package router

import (
	"fmt"

	"github.com/smallbiznis/creatorpay/internal/webhook/domain"
	"go.uber.org/fx"
)

// Router dispatches an event type to exactly one handler.
type Router struct {
	handlers map[domain.EventType]domain.Handler
}

type Params struct {
	fx.In

	Routes []domain.Route `group:"webhook_routes"`
}

func Provide(p Params) *Router {
	return New(p.Routes...)
}

// New builds a router. Registering the same event type twice, or a type that
// is not part of the known set, panics at construction.
func New(routes ...domain.Route) *Router {
	handlers := make(map[domain.EventType]domain.Handler, len(routes))
	for _, route := range routes {
		if _, ok := domain.ParseEventType(string(route.Type)); !ok {
			panic(fmt.Sprintf("webhook router: unknown event type %q", route.Type))
		}
		if route.Handler == nil {
			panic(fmt.Sprintf("webhook router: nil handler for %q", route.Type))
		}
		if _, exists := handlers[route.Type]; exists {
			panic(fmt.Sprintf("webhook router: duplicate handler for %q", route.Type))
		}
		handlers[route.Type] = route.Handler
	}
	return &Router{handlers: handlers}
}

func (r *Router) Lookup(eventType domain.EventType) (domain.Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[eventType]
	return h, ok
}

func (r *Router) Len() int {
	if r == nil {
		return 0
	}
	return len(r.handlers)
}
