package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"shopmetrics/internal/bootstrap"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.Init(ctx, "shopify-webhooks-worker")
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	p := app.Processor()

	lambda.Start(func(ctx context.Context, batch events.SQSEvent) (events.SQSEventResponse, error) {
		return p.HandleSQS(ctx, batch), nil
	})
}
