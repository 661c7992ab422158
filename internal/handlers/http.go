package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

func userSub(req events.APIGatewayV2HTTPRequest) (string, string, error) {
	// For HTTP API JWT authorizer, claims are in:
	// req.RequestContext.Authorizer.JWT.Claims
	if req.RequestContext.Authorizer == nil || req.RequestContext.Authorizer.JWT == nil || req.RequestContext.Authorizer.JWT.Claims == nil {
		return "", "", errors.New("missing authorizer claims")
	}
	claims := req.RequestContext.Authorizer.JWT.Claims
	sub := strings.TrimSpace(claims["sub"])
	if sub == "" {
		return "", "", fmt.Errorf("missing sub")
	}
	email := strings.TrimSpace(claims["email"])
	return sub, email, nil
}

func jsonResp(status int, v any) (events.APIGatewayV2HTTPResponse, error) {
	b, _ := json.Marshal(v)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers: map[string]string{
			"content-type":                "application/json",
			"access-control-allow-origin": "*",
		},
		Body: string(b),
	}, nil
}

func errResp(status int, msg string) (events.APIGatewayV2HTTPResponse, error) {
	return jsonResp(status, map[string]any{
		"error": msg,
	})
}

// rawBody undoes API Gateway's base64 encoding of binary or non-UTF8 bodies.
func rawBody(req events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

// header looks a header up case-insensitively; HTTP API lowercases them but
// test events often do not.
func header(req events.APIGatewayV2HTTPRequest, name string) string {
	if v, ok := req.Headers[strings.ToLower(name)]; ok {
		return v
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
