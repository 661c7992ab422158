package ingest

import (
	"context"

	"github.com/aws/aws-lambda-go/events"

	"shopmetrics/internal/shopify"
)

// HandleSQS processes an EventBridge-to-SQS batch and reports per-message
// failures so only those are redelivered (or sent to the DLQ).
func (p *Processor) HandleSQS(ctx context.Context, batch events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	touched := make([]string, 0, 1)
	seen := map[string]bool{}

	for _, rec := range batch.Records {
		ev, err := shopify.ParseEventBridge([]byte(rec.Body))
		if err == nil {
			var out Outcome
			out, err = p.Handle(ctx, ev)
			if err == nil && out == Applied && !seen[ev.Shop] {
				seen[ev.Shop] = true
				touched = append(touched, ev.Shop)
			}
		}
		if err != nil {
			p.Log.WithError(err).WithField("messageId", rec.MessageId).Error("webhook message failed")
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}

	p.Reclassify(ctx, touched)
	return events.SQSEventResponse{BatchItemFailures: failures}
}
