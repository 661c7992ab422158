package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"shopmetrics/internal/bootstrap"
	"shopmetrics/internal/handlers"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.Init(ctx, "shopify")
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	h := &handlers.Shopify{
		Cfg:          app.Cfg,
		States:       app.States,
		Integrations: app.Integrations,
		Client:       app.Shopify,
		Sink:         app.Data,
		Processor:    app.Processor(),
		Log:          app.Log,
	}
	lambda.Start(h.Handle)
}
