package stage

import (
	"context"
	"fmt"

	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/internal/queue"
)

// QueuedCreateHandler publishes create requests to the create queue
type QueuedCreateHandler struct {
	publisher  Publisher
	routingKey string
	newID      func() string
}

// NewQueuedCreateHandler creates a QueuedCreateHandler
func NewQueuedCreateHandler(publisher Publisher, routingKey string) *QueuedCreateHandler {
	return &QueuedCreateHandler{publisher: publisher, routingKey: routingKey, newID: newUUIDv7}
}

// ProcessCreate publishes req grouped by customer. Every publish gets a fresh dedup id; repeated
// creates are absorbed by the patient id gate in the processor.
func (h *QueuedCreateHandler) ProcessCreate(ctx context.Context, req domain.CreateRequest) error {
	_, err := h.publisher.Send(ctx, queue.Message{
		RoutingKey: h.routingKey,
		GroupID:    req.CxID,
		DedupID:    h.newID(),
		Body:       req,
	})
	if err != nil {
		return fmt.Errorf("job %s row %d: failed to enqueue create: %w", req.JobID, req.RowNumber, err)
	}
	return nil
}

// QueuedQueryHandler publishes query requests to the query queue
type QueuedQueryHandler struct {
	publisher  Publisher
	routingKey string
}

// NewQueuedQueryHandler creates a QueuedQueryHandler
func NewQueuedQueryHandler(publisher Publisher, routingKey string) *QueuedQueryHandler {
	return &QueuedQueryHandler{publisher: publisher, routingKey: routingKey}
}

// ProcessQuery publishes req deduplicated by patient id, so one patient is queried once per window
func (h *QueuedQueryHandler) ProcessQuery(ctx context.Context, req domain.QueryRequest) error {
	_, err := h.publisher.Send(ctx, queue.Message{
		RoutingKey: h.routingKey,
		GroupID:    req.CxID,
		DedupID:    req.PatientID,
		Body:       req,
	})
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("job %s row %d: failed to enqueue query: %w", req.JobID, req.RowNumber, err))
	}
	return nil
}
