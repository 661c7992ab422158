// Package ingest applies Shopify webhook deliveries to the customer and
// order store and keeps the persisted segments of touched shops current.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"shopmetrics/internal/retry"
	"shopmetrics/internal/segment"
	"shopmetrics/internal/shopify"
)

type Writer interface {
	UpsertCustomer(ctx context.Context, shop string, c segment.Customer) error
	UpsertOrder(ctx context.Context, shop string, o segment.Order) error
}

// Claimer guards against Shopify's at-least-once delivery.
type Claimer interface {
	Claim(ctx context.Context, webhookID, shop, topic string) (bool, error)
	Release(ctx context.Context, webhookID string) error
}

// Tracker records the last event per linked user. Optional.
type Tracker interface {
	UsersForShop(ctx context.Context, shop string) ([]string, error)
	UpdateLastEvent(ctx context.Context, sub, shop, topic, webhookID string) error
}

type Outcome string

const (
	Applied   Outcome = "applied"
	Duplicate Outcome = "duplicate"
	Ignored   Outcome = "ignored"
)

// Schemes are reclassified and persisted after each batch.
var Schemes = []segment.Scheme{segment.SchemeRFM, segment.SchemeLifecycle}

type Processor struct {
	Writer  Writer
	Claims  Claimer
	Tracker Tracker
	Engine  *segment.Engine
	Retry   retry.Policy
	Log     *logrus.Logger
}

// Handle applies one delivery. A returned error means the delivery should be
// retried; its dedupe claim has been released. Malformed payloads are Ignored.
func (p *Processor) Handle(ctx context.Context, ev shopify.Event) (Outcome, error) {
	log := p.Log.WithFields(logrus.Fields{"shop": ev.Shop, "topic": ev.Topic, "webhookId": ev.WebhookID})

	if ev.Shop == "" || !(shopify.IsOrderTopic(ev.Topic) || shopify.IsCustomerTopic(ev.Topic)) {
		log.Debug("webhook ignored")
		return Ignored, nil
	}

	if p.Claims != nil {
		dup, err := p.Claims.Claim(ctx, ev.WebhookID, ev.Shop, ev.Topic)
		if err != nil {
			return "", fmt.Errorf("claim webhook: %w", err)
		}
		if dup {
			log.Info("duplicate webhook skipped")
			return Duplicate, nil
		}
	}

	if err := p.apply(ctx, ev); err != nil {
		// redelivering a payload that cannot be parsed only ends in the DLQ;
		// the claim stays so a redelivery is a duplicate
		if errors.Is(err, shopify.ErrMalformedPayload) {
			log.WithError(err).Warn("malformed webhook dropped")
			return Ignored, nil
		}
		if p.Claims != nil {
			if rerr := p.Claims.Release(ctx, ev.WebhookID); rerr != nil {
				log.WithError(rerr).Warn("release webhook claim failed")
			}
		}
		return "", err
	}

	p.track(ctx, ev, log)
	log.Info("webhook applied")
	return Applied, nil
}

func (p *Processor) apply(ctx context.Context, ev shopify.Event) error {
	switch {
	case shopify.IsOrderTopic(ev.Topic):
		o, err := shopify.ParseOrder(ev.Payload)
		if err != nil {
			return err
		}
		return retry.Do(ctx, p.Retry, func(ctx context.Context) error {
			return p.Writer.UpsertOrder(ctx, ev.Shop, o)
		})
	case shopify.IsCustomerTopic(ev.Topic):
		c, err := shopify.ParseCustomer(ev.Payload)
		if err != nil {
			return err
		}
		return retry.Do(ctx, p.Retry, func(ctx context.Context) error {
			return p.Writer.UpsertCustomer(ctx, ev.Shop, c)
		})
	}
	return shopify.ErrUnsupportedTopic
}

// track is best effort: a missing mapping only hides the "last event" badge.
func (p *Processor) track(ctx context.Context, ev shopify.Event, log *logrus.Entry) {
	if p.Tracker == nil {
		return
	}
	subs, err := p.Tracker.UsersForShop(ctx, ev.Shop)
	if err != nil {
		log.WithError(err).Warn("users for shop failed")
		return
	}
	for _, sub := range subs {
		if err := p.Tracker.UpdateLastEvent(ctx, sub, ev.Shop, ev.Topic, ev.WebhookID); err != nil {
			log.WithError(err).WithField("sub", sub).Warn("update last event failed")
		}
	}
}

// Reclassify recomputes and persists every scheme for each shop. Failures
// are logged and counted; the scheduled refresh repairs them later.
func (p *Processor) Reclassify(ctx context.Context, shops []string) int {
	if p.Engine == nil {
		return 0
	}
	failed := 0
	for _, shop := range shops {
		for _, scheme := range Schemes {
			rep, err := p.Engine.Run(ctx, segment.RunRequest{Tenant: shop, Scheme: scheme, Persist: true})
			if err == nil && rep.Degraded {
				err = fmt.Errorf("source unavailable")
			}
			if err != nil {
				failed++
				p.Log.WithError(err).WithFields(logrus.Fields{"shop": shop, "scheme": string(scheme)}).Warn("reclassify failed")
			}
		}
	}
	return failed
}
