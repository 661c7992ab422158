package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"shopmetrics/internal/config"
	"shopmetrics/internal/logger"
)

const service = "shopmetrics-backend"

type HealthResponse struct {
	OK                bool   `json:"ok"`
	Service           string `json:"service"`
	Version           string `json:"version,omitempty"`
	StoreBackend      string `json:"storeBackend,omitempty"`
	ShopifyAPIVersion string `json:"shopifyApiVersion,omitempty"`
	Error             string `json:"error,omitempty"`
}

// health reports the deployed version and the configuration the other
// functions will start with. A config they would refuse answers 503.
type health struct {
	cfg     *config.Config
	cfgErr  error
	version string
}

func (h health) handle(_ context.Context, _ events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	res := HealthResponse{OK: h.cfgErr == nil, Service: service, Version: h.version}
	status := 200
	if h.cfgErr != nil {
		status = 503
		res.Error = h.cfgErr.Error()
	} else {
		res.StoreBackend = h.cfg.StoreBackend
		res.ShopifyAPIVersion = h.cfg.ShopifyAPIVersion
	}
	body, _ := json.Marshal(res)

	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers: map[string]string{
			"content-type":                "application/json",
			"access-control-allow-origin": "*",
		},
		Body: string(body),
	}, nil
}

func main() {
	log := logger.New("health")
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("config invalid")
	}
	h := health{cfg: cfg, cfgErr: err, version: os.Getenv("AWS_LAMBDA_FUNCTION_VERSION")}
	log.WithFields(logrus.Fields{"version": h.version}).Info("health ready")
	lambda.Start(h.handle)
}
