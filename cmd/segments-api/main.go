package main

import (
	"context"
	"log"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"

	"shopmetrics/internal/bootstrap"
	"shopmetrics/internal/handlers"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.Init(ctx, "segments-api")
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	h := handlers.NewSegments(app.Engine, app.Directory, app.Log)
	if strings.TrimSpace(app.Cfg.AthenaOutput) != "" {
		h.History = app.History()
	}
	if strings.TrimSpace(app.Cfg.BedrockModelID) != "" {
		h.Advisor = app.Advisor()
	}
	if strings.TrimSpace(app.Tables.Users) != "" {
		h.Alerts = app.Alerts()
	}

	lambda.Start(h.Handle)
}
