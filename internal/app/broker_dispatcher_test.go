package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/transfa/linkdrop-service/internal/domain"
	"github.com/transfa/linkdrop-service/pkg/rabbitmq"
)

type routedMessage struct {
	exchange, routingKey string
	body                 interface{}
}

type routingPublisher struct {
	sent []routedMessage
}

func (p *routingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.sent = append(p.sent, routedMessage{exchange, routingKey, body})
	return nil
}

func (p *routingPublisher) Close() {}

func TestBrokerDispatcher_RoutesByActionKind(t *testing.T) {
	pub := &routingPublisher{}
	d := NewBrokerDispatcher(pub, "linkdrop.actions")
	msg := domain.ActionMessage{
		SettlementToken: uuid.New(),
		DropID:          "d1",
		Action:          domain.Action{Kind: domain.ActionFTTransfer, Receiver: receiver, ContractID: ftID},
	}

	require.NoError(t, d.Dispatch(context.Background(), msg))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "linkdrop.actions", pub.sent[0].exchange)
	assert.Equal(t, "action.ft_transfer", pub.sent[0].routingKey)
	assert.Equal(t, msg, pub.sent[0].body)
}

func TestBrokerDispatcher_FallbackPublisherFailsDispatch(t *testing.T) {
	d := NewBrokerDispatcher(&rabbitmq.EventProducerFallback{Logger: zap.NewNop()}, "linkdrop.actions")
	err := d.Dispatch(context.Background(), domain.ActionMessage{Action: domain.Action{Kind: domain.ActionNativeTransfer}})
	assert.ErrorIs(t, err, rabbitmq.ErrPublisherUnavailable)
}
