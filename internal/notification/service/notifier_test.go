package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/marketledger/internal/clock"
	notificationdomain "github.com/smallbiznis/marketledger/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, routingKey string, envelope notificationdomain.Envelope) error {
	return m.Called(routingKey, envelope).Error(0)
}

func (m *mockPublisher) Close() {}

func TestNotifyPublishesEnvelope(t *testing.T) {
	pub := &mockPublisher{}
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	pub.On("Publish", notificationdomain.EventOrderCompleted, mock.MatchedBy(func(e notificationdomain.Envelope) bool {
		return e.Type == notificationdomain.EventOrderCompleted &&
			e.Recipient.ID == "42" &&
			e.Payload["order_id"] == "900" &&
			e.OccurredAt.Equal(now) &&
			e.ID != ""
	})).Return(nil).Once()

	n := NewNotifier(Params{Log: zap.NewNop(), Publisher: pub, Clock: clock.NewFakeClock(now)})
	n.Notify(context.Background(),
		notificationdomain.Recipient{Kind: notificationdomain.RecipientUser, ID: "42"},
		notificationdomain.EventOrderCompleted,
		map[string]any{"order_id": "900"},
	)
	pub.AssertExpectations(t)
}

func TestNotifySwallowsPublishErrors(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	n := NewNotifier(Params{Log: zap.NewNop(), Publisher: pub, Clock: clock.NewFakeClock(time.Now())})
	require.NotPanics(t, func() {
		n.Notify(context.Background(), notificationdomain.Recipient{ID: "1"}, notificationdomain.EventPayoutFailed, nil)
	})
	assert.Len(t, pub.Calls, 1)
}
