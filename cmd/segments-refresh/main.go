package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"shopmetrics/internal/bootstrap"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.Init(ctx, "segments-refresh")
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	h := app.Refresh()
	lambda.Start(h.Handle)
}
