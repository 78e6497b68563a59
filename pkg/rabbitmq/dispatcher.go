package rabbitmq

import (
	"context"
	"errors"
	"strings"
)

// ActionDispatcher hands action payloads to executor workers through a topic
// exchange. Routing keys are "action.<kind>".
type ActionDispatcher struct {
	publisher Publisher
	exchange  string
}

func NewActionDispatcher(publisher Publisher, exchange string) *ActionDispatcher {
	return &ActionDispatcher{publisher: publisher, exchange: exchange}
}

// Dispatch publishes payload under kind. Unlike events, actions are never
// dropped silently: with the fallback publisher the dispatch fails so the
// caller can refund.
func (d *ActionDispatcher) Dispatch(ctx context.Context, kind string, payload interface{}) error {
	if d.publisher == nil {
		return ErrPublisherUnavailable
	}
	if _, ok := d.publisher.(*EventProducerFallback); ok {
		return ErrPublisherUnavailable
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return errors.New("rabbitmq: action kind is required")
	}
	return d.publisher.Publish(ctx, d.exchange, "action."+kind, payload)
}
