package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"shopmetrics/internal/config"
	"shopmetrics/internal/ingest"
	"shopmetrics/internal/shopify"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
)

// Shopify serves the connect flow, shop management, sync and direct webhooks.
type Shopify struct {
	Cfg          *config.Config
	States       *shopify.States
	Integrations *shopify.Integrations
	Client       *shopify.Client
	Sink         shopify.Sink
	Processor    *ingest.Processor
	Log          *logrus.Logger
}

func (h *Shopify) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	// Route by path + method
	switch req.RawPath {
	case "/integrations/shopify/connect":
		return h.connect(ctx, req)
	case "/integrations/shopify/callback":
		return h.callback(ctx, req)
	case "/integrations/shopify/shops":
		if req.RequestContext.HTTP.Method == "GET" {
			return h.listShops(ctx, req)
		}
		if req.RequestContext.HTTP.Method == "DELETE" {
			return h.disconnect(ctx, req)
		}
		return errResp(405, "method not allowed")
	case "/integrations/shopify/sync":
		if req.RequestContext.HTTP.Method == "POST" {
			return h.sync(ctx, req)
		}
		return errResp(405, "method not allowed")
	case "/webhooks/shopify":
		if req.RequestContext.HTTP.Method == "POST" {
			return h.webhook(ctx, req)
		}
		return errResp(405, "method not allowed")
	default:
		return errResp(404, "not found")
	}
}

func shopParam(req events.APIGatewayV2HTTPRequest) string {
	return strings.ToLower(strings.TrimSpace(req.QueryStringParameters["shop"]))
}

func (h *Shopify) connect(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	// Must be logged in (Cognito JWT authorizer)
	sub, _, err := userSub(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	shop := shopParam(req)
	if !shopify.ValidShopDomain(shop) {
		return errResp(400, "invalid shop (expected like your-store.myshopify.com)")
	}

	apiKey := h.Cfg.ShopifyAPIKey
	scopes := strings.TrimSpace(h.Cfg.ShopifyScopes)
	redirectBase := strings.TrimRight(h.Cfg.ShopifyRedirectBase, "/")
	if apiKey == "" || scopes == "" || redirectBase == "" {
		return errResp(500, "missing SHOPIFY_* env vars")
	}

	state, err := h.States.Issue(ctx, sub, shop)
	if err != nil {
		h.Log.WithError(err).Error("issue oauth state failed")
		return errResp(500, "failed to store oauth state")
	}

	u, _ := url.Parse(fmt.Sprintf("https://%s/admin/oauth/authorize", shop))
	q := u.Query()
	q.Set("client_id", apiKey)
	q.Set("scope", scopes)
	q.Set("redirect_uri", redirectBase+"/integrations/shopify/callback")
	q.Set("state", state)
	u.RawQuery = q.Encode()

	return jsonResp(200, map[string]any{
		"authorizeUrl": u.String(),
	})
}

// webhookAddress prefers the EventBridge partner source; without one Shopify
// posts to our own /webhooks/shopify route.
func (h *Shopify) webhookAddress() string {
	if arn := strings.TrimSpace(h.Cfg.EventBridgeSourceARN); arn != "" {
		return arn
	}
	return strings.TrimRight(h.Cfg.ShopifyRedirectBase, "/") + "/webhooks/shopify"
}

func (h *Shopify) callback(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	params := req.QueryStringParameters

	shop := strings.ToLower(strings.TrimSpace(params["shop"]))
	code := strings.TrimSpace(params["code"])
	state := strings.TrimSpace(params["state"])
	hmacParam := strings.TrimSpace(params["hmac"])

	if !shopify.ValidShopDomain(shop) || code == "" || state == "" || hmacParam == "" {
		return errResp(400, "missing required oauth params")
	}

	secret := h.Cfg.ShopifyAPISecret
	if secret == "" {
		return errResp(500, "SHOPIFY_API_SECRET not set")
	}
	if !shopify.VerifyOAuthHMAC(params, secret, hmacParam) {
		return errResp(400, "invalid hmac")
	}

	sub, err := h.States.Consume(ctx, state, shop)
	if err != nil {
		if errors.Is(err, shopify.ErrInvalidState) {
			return errResp(400, err.Error())
		}
		return errResp(500, "failed to load oauth state")
	}

	token, scope, err := h.Client.ExchangeToken(ctx, shop, h.Cfg.ShopifyAPIKey, secret, code)
	if err != nil {
		h.Log.WithError(err).WithField("shop", shop).Error("token exchange failed")
		return errResp(502, "token exchange failed")
	}

	if err := h.Integrations.Connect(ctx, sub, shop, token, scope); err != nil {
		h.Log.WithError(err).WithField("shop", shop).Error("store integration failed")
		return errResp(500, "failed to store integration")
	}

	// Subscribe this shop to required webhooks
	created, failed := h.Client.SubscribeTopics(ctx, shop, token, h.webhookAddress())
	h.Log.WithFields(logrus.Fields{"shop": shop, "created": created, "failed": failed}).Info("webhook subscriptions")

	// Redirect back to frontend Shopify page
	fe := strings.TrimRight(h.Cfg.FrontendBaseURL, "/")
	if fe == "" {
		fe = "/"
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: 302,
		Headers: map[string]string{
			"location": fe + "/shopify?connected=1&shop=" + url.QueryEscape(shop),
		},
	}, nil
}

func (h *Shopify) listShops(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, _, err := userSub(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	items, err := h.Integrations.List(ctx, sub)
	if err != nil {
		h.Log.WithError(err).Error("list integrations failed")
		return errResp(500, "query failed")
	}

	type ShopItem struct {
		Shop               string `json:"shop"`
		Scope              string `json:"scope"`
		CreatedAt          string `json:"createdAt"`
		LastSyncAt         string `json:"lastSyncAt"`
		LastEventAt        string `json:"lastEventAt"`
		LastEventTopic     string `json:"lastEventTopic"`
		LastEventWebhookId string `json:"lastEventWebhookId"`
	}

	out := make([]ShopItem, 0, len(items))
	for _, it := range items {
		out = append(out, ShopItem{
			Shop:               it.Shop,
			Scope:              it.Scope,
			CreatedAt:          it.CreatedAt,
			LastSyncAt:         it.LastSyncAt,
			LastEventAt:        it.LastEventAt,
			LastEventTopic:     it.LastEventTopic,
			LastEventWebhookId: it.LastEventWebhookID,
		})
	}
	return jsonResp(200, map[string]any{"items": out})
}

func (h *Shopify) disconnect(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, _, err := userSub(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	shop := shopParam(req)
	if !shopify.ValidShopDomain(shop) {
		return errResp(400, "invalid shop")
	}

	if err := h.Integrations.Disconnect(ctx, sub, shop); err != nil {
		h.Log.WithError(err).WithField("shop", shop).Error("disconnect failed")
		return errResp(500, "delete failed")
	}
	return jsonResp(200, map[string]any{"ok": true})
}

func (h *Shopify) sync(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, _, err := userSub(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	shop := shopParam(req)
	if !shopify.ValidShopDomain(shop) {
		return errResp(400, "invalid shop")
	}

	// optional limit per entity per sync run
	limit := 250
	if s := strings.TrimSpace(req.QueryStringParameters["limit"]); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n >= 1 && n <= 5000 {
			limit = n
		}
	}

	accessToken, integ, err := h.Integrations.Token(ctx, sub, shop)
	if errors.Is(err, shopify.ErrNotConnected) {
		return errResp(404, "shop not connected")
	}
	if err != nil {
		h.Log.WithError(err).WithField("shop", shop).Error("load integration failed")
		return errResp(500, "failed to load integration")
	}

	res, err := h.Client.Sync(ctx, shop, accessToken, integ.LastSyncAt, limit, h.Sink)
	if err != nil {
		var apiErr *shopify.APIError
		if errors.As(err, &apiErr) {
			return jsonResp(502, map[string]any{
				"error":  "shopify returned errors",
				"status": apiErr.Status,
				"errors": apiErr.Messages,
			})
		}
		h.Log.WithError(err).WithField("shop", shop).Error("sync failed")
		return errResp(502, "shopify request failed")
	}

	// Persist LastSyncAt per shop so next sync continues
	if res.LastSyncAt != "" {
		if err := h.Integrations.MarkSynced(ctx, sub, shop, res.LastSyncAt); err != nil {
			h.Log.WithError(err).WithField("shop", shop).Warn("mark synced failed")
		}
	}

	failed := 0
	if h.Processor != nil && res.Customers+res.Orders > 0 {
		failed = h.Processor.Reclassify(ctx, []string{shop})
	}

	return jsonResp(200, map[string]any{
		"ok":               true,
		"shop":             shop,
		"customers":        res.Customers,
		"orders":           res.Orders,
		"skipped":          res.Skipped,
		"lastSyncAt":       res.LastSyncAt,
		"reclassifyFailed": failed,
	})
}

// webhook is the HTTPS delivery path. Shopify signs the raw body; any non-2xx
// makes it redeliver.
func (h *Shopify) webhook(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if h.Processor == nil {
		return errResp(501, "webhooks not configured")
	}
	body, err := rawBody(req)
	if err != nil {
		return errResp(400, "invalid body encoding")
	}
	if !shopify.VerifyWebhookHMAC(body, h.Cfg.ShopifyAPISecret, header(req, "X-Shopify-Hmac-Sha256")) {
		return errResp(401, "invalid hmac")
	}

	ev := shopify.Event{
		Topic:     strings.TrimSpace(header(req, "X-Shopify-Topic")),
		Shop:      strings.ToLower(strings.TrimSpace(header(req, "X-Shopify-Shop-Domain"))),
		WebhookID: strings.TrimSpace(header(req, "X-Shopify-Webhook-Id")),
		Payload:   body,
	}

	out, err := h.Processor.Handle(ctx, ev)
	if err != nil {
		return errResp(500, "webhook processing failed")
	}
	if out == ingest.Applied {
		h.Processor.Reclassify(ctx, []string{ev.Shop})
	}
	return jsonResp(200, map[string]any{"ok": true, "outcome": out})
}
