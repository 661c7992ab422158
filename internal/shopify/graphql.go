package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type GraphQLError struct {
	Message    string `json:"message"`
	Path       []any  `json:"path,omitempty"`
	Extensions struct {
		Code string `json:"code,omitempty"`
	} `json:"extensions,omitempty"`
}

type GraphQLResponse[T any] struct {
	Data   T              `json:"data"`
	Errors []GraphQLError `json:"errors"`
}

// Client talks to the Admin API of any shop.
type Client struct {
	HTTP       *http.Client
	APIVersion string
	// BaseURL maps a shop domain to its origin. Tests point it at httptest.
	BaseURL func(shop string) string
}

func NewClient(apiVersion string) *Client {
	if strings.TrimSpace(apiVersion) == "" {
		apiVersion = "2026-01"
	}
	return &Client{
		HTTP:       http.DefaultClient,
		APIVersion: apiVersion,
		BaseURL:    func(shop string) string { return "https://" + shop },
	}
}

func (c *Client) adminURL(shop, path string) string {
	return fmt.Sprintf("%s/admin/api/%s/%s", c.BaseURL(shop), c.APIVersion, path)
}

func (c *Client) post(ctx context.Context, url, accessToken string, body any) ([]byte, int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("content-type", "application/json")
	if accessToken != "" {
		req.Header.Set("X-Shopify-Access-Token", accessToken)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	return raw, res.StatusCode, err
}

func PostGraphQL[T any](ctx context.Context, c *Client, shop, accessToken, query string, variables any) (*GraphQLResponse[T], int, error) {
	raw, status, err := c.post(ctx, c.adminURL(shop, "graphql.json"), accessToken, map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return nil, status, err
	}

	var out GraphQLResponse[T]
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

// ErrorMessages flattens GraphQL errors into "message (CODE)" strings.
func ErrorMessages(errs []GraphQLError) []string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Extensions.Code != "" {
			msgs = append(msgs, e.Message+" ("+e.Extensions.Code+")")
		} else {
			msgs = append(msgs, e.Message)
		}
	}
	return msgs
}

// ExchangeToken trades an OAuth code for an offline access token.
func (c *Client) ExchangeToken(ctx context.Context, shop, apiKey, secret, code string) (token, scope string, err error) {
	raw, status, err := c.post(ctx, c.BaseURL(shop)+"/admin/oauth/access_token", "", map[string]string{
		"client_id":     apiKey,
		"client_secret": secret,
		"code":          code,
	})
	if err != nil {
		return "", "", fmt.Errorf("token exchange failed: %w", err)
	}
	if status < 200 || status >= 300 {
		return "", "", fmt.Errorf("token exchange failed: http %d: %s", status, string(raw))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		Scope       string `json:"scope"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil || tok.AccessToken == "" {
		return "", "", fmt.Errorf("invalid token response")
	}
	return tok.AccessToken, tok.Scope, nil
}
