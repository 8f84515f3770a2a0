package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/metriport/metriport-sub005/shared/logger"
	"github.com/metriport/metriport-sub005/shared/rabbitmq"
)

type testBody struct {
	CxID      string `json:"cxId"`
	RowNumber int    `json:"rowNumber"`
}

func TestFIFOPublisher_Send(t *testing.T) {
	ctrl := gomock.NewController(t)
	broker := NewMockBroker(ctrl)
	publisher := NewFIFOPublisher(broker, NewMemoryDeduplicator(), 0, logger.NewNop())

	broker.EXPECT().Publish(gomock.Any(), rabbitmq.Message{
		RoutingKey:  "patient-import.create",
		Body:        []byte(`{"cxId":"cx-1","rowNumber":3}`),
		ContentType: "application/json",
		MessageID:   "dedup-1",
		GroupID:     "cx-1",
	}).Return(nil).Times(1)

	msg := Message{
		RoutingKey: "patient-import.create",
		GroupID:    "cx-1",
		DedupID:    "dedup-1",
		Body:       testBody{CxID: "cx-1", RowNumber: 3},
	}

	sent, err := publisher.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = publisher.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, sent, "duplicate within the window is suppressed")
}

func TestFIFOPublisher_ReleasesClaimOnPublishFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	broker := NewMockBroker(ctrl)
	publisher := NewFIFOPublisher(broker, NewMemoryDeduplicator(), 0, logger.NewNop())

	gomock.InOrder(
		broker.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("channel closed")),
		broker.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil),
	)

	msg := Message{RoutingKey: "patient-import.query", GroupID: "cx-1", DedupID: "pat-1", Body: testBody{}}

	sent, err := publisher.Send(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, sent)

	sent, err = publisher.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestFIFOPublisher_RequiresDedupID(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := NewFIFOPublisher(NewMockBroker(ctrl), NewMemoryDeduplicator(), 0, logger.NewNop())

	_, err := publisher.Send(context.Background(), Message{RoutingKey: "q", Body: testBody{}})
	assert.Error(t, err)
}

func TestFIFOPublisher_DedupIsScopedByRoutingKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	broker := NewMockBroker(ctrl)
	publisher := NewFIFOPublisher(broker, NewMemoryDeduplicator(), 0, logger.NewNop())
	broker.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	for _, key := range []string{"patient-import.create", "patient-import.query"} {
		sent, err := publisher.Send(context.Background(), Message{RoutingKey: key, DedupID: "same", Body: testBody{}})
		require.NoError(t, err)
		assert.True(t, sent)
	}
}
