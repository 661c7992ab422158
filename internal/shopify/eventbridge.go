package shopify

import (
	"context"
	"fmt"
)

// Topics feed the segmentation: new and updated orders move recency and
// spend, customer webhooks keep the customer table complete.
var Topics = []string{
	"orders/create",
	"orders/updated",
	"customers/create",
	"customers/update",
}

type webhookCreateReq struct {
	Webhook struct {
		Address string `json:"address"`
		Topic   string `json:"topic"`
		Format  string `json:"format"`
	} `json:"webhook"`
}

// CreateWebhook registers one topic. address is either the EventBridge
// partner event source ARN or the public /webhooks/shopify URL.
func (c *Client) CreateWebhook(ctx context.Context, shop, accessToken, topic, address string) error {
	var payload webhookCreateReq
	payload.Webhook.Address = address
	payload.Webhook.Topic = topic
	payload.Webhook.Format = "json"

	raw, status, err := c.post(ctx, c.adminURL(shop, "webhooks.json"), accessToken, payload)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("create webhook failed: http %d: %s", status, string(raw))
	}
	return nil
}

// SubscribeTopics subscribes a shop to every topic in Topics.
func (c *Client) SubscribeTopics(ctx context.Context, shop, accessToken, address string) (created []string, failed []map[string]string) {
	for _, t := range Topics {
		if err := c.CreateWebhook(ctx, shop, accessToken, t, address); err != nil {
			failed = append(failed, map[string]string{"topic": t, "error": err.Error()})
			continue
		}
		created = append(created, t)
	}
	return created, failed
}
