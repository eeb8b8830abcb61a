package intake

import (
	"context"

	"github.com/wolfman30/clinical-intake-pipeline/internal/pipeline"
)

// routeAttribute is the SQS message attribute naming the stage route of a change notification.
const routeAttribute = "route"

type queueClient interface {
	Send(ctx context.Context, route pipeline.Route, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
	Route         pipeline.Route
}
