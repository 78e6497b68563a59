package app

import (
	"context"

	"github.com/transfa/linkdrop-service/internal/domain"
	"github.com/transfa/linkdrop-service/pkg/rabbitmq"
)

// BrokerDispatcher sends actions to executor workers over RabbitMQ, routed
// by action kind.
type BrokerDispatcher struct {
	actions *rabbitmq.ActionDispatcher
}

func NewBrokerDispatcher(publisher rabbitmq.Publisher, exchange string) *BrokerDispatcher {
	return &BrokerDispatcher{actions: rabbitmq.NewActionDispatcher(publisher, exchange)}
}

func (d *BrokerDispatcher) Dispatch(ctx context.Context, msg domain.ActionMessage) error {
	return d.actions.Dispatch(ctx, string(msg.Action.Kind), msg)
}
