// Package etl holds the scheduled segment refresh: reclassify every shop,
// persist, export the daily snapshot and alert on at-risk growth.
package etl

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"shopmetrics/internal/segment"
	"shopmetrics/internal/shopify"
	"shopmetrics/internal/users"
)

type ShopLister interface {
	AllShops(ctx context.Context) ([]string, error)
}

type Exporter interface {
	Enabled() bool
	Export(ctx context.Context, rep *segment.Report) (string, error)
}

// Puller brings the local copy of a shop up to date before it is classified.
type Puller interface {
	Pull(ctx context.Context, shop string) (shopify.SyncResult, error)
}

type Linker interface {
	UsersForShop(ctx context.Context, shop string) ([]string, error)
}

type Publisher interface {
	Publish(ctx context.Context, subs []string, subject, message string) (int, error)
}

// BaselineStore holds the at-risk share each refresh compares against. Only
// this job writes it, so webhook and manual sync persists in between do not
// reset the comparison point.
type BaselineStore interface {
	Load(ctx context.Context, shop string, scheme segment.Scheme) (float64, bool, error)
	Store(ctx context.Context, rep *segment.Report) error
}

// AlertScheme is the scheme whose at-risk share is watched.
const AlertScheme = segment.SchemeRFM

var Schemes = []segment.Scheme{segment.SchemeRFM, segment.SchemeLifecycle}

// SegmentRefresh is triggered by an EventBridge schedule. Puller, Exporter,
// Links, Alerts and Baselines are optional; alerts need all of the last three.
type SegmentRefresh struct {
	Shops         ShopLister
	Engine        *segment.Engine
	Puller        Puller
	Exporter      Exporter
	Links         Linker
	Alerts        Publisher
	Baselines     BaselineStore
	AlertDeltaPct float64
	Log           *logrus.Logger

	// OnShop, when set, is called after each shop. The backfill CLI drives
	// its progress bar from it.
	OnShop func(shop string, err error)
}

type Summary struct {
	Shops    int      `json:"shops"`
	Failed   []string `json:"failed"`
	Exported int      `json:"exported"`
	Alerts   int      `json:"alertsSent"`
}

func (h *SegmentRefresh) Handle(ctx context.Context, _ events.CloudWatchEvent) (map[string]any, error) {
	shops, err := h.Shops.AllShops(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shops: %w", err)
	}
	if len(shops) == 0 {
		return map[string]any{"ok": true, "shops": 0, "reason": "no shops found"}, nil
	}
	sum := h.Run(ctx, shops)
	return map[string]any{
		"ok":         len(sum.Failed) == 0,
		"shops":      sum.Shops,
		"failed":     sum.Failed,
		"exported":   sum.Exported,
		"alertsSent": sum.Alerts,
	}, nil
}

// Run refreshes the given shops one after another. A failing shop is logged
// and skipped; the next run retries it.
func (h *SegmentRefresh) Run(ctx context.Context, shops []string) Summary {
	sum := Summary{Failed: []string{}}
	for _, shop := range shops {
		if ctx.Err() != nil {
			sum.Failed = append(sum.Failed, shop)
			continue
		}
		exported, sent, err := h.refreshShop(ctx, shop)
		sum.Shops++
		sum.Exported += exported
		sum.Alerts += sent
		if err != nil {
			sum.Failed = append(sum.Failed, shop)
			h.Log.WithError(err).WithField("shop", shop).Error("segment refresh failed")
		}
		if h.OnShop != nil {
			h.OnShop(shop, err)
		}
	}
	return sum
}

func (h *SegmentRefresh) refreshShop(ctx context.Context, shop string) (exported, sent int, err error) {
	log := h.Log.WithField("shop", shop)

	// missed webhooks are caught here; stale data still gets classified
	if h.Puller != nil {
		res, err := h.Puller.Pull(ctx, shop)
		if err != nil {
			log.WithError(err).Warn("pull failed, classifying stored data")
		} else {
			log.WithFields(logrus.Fields{"customers": res.Customers, "orders": res.Orders}).Debug("pulled")
		}
	}

	var (
		base    float64
		hasBase bool
	)
	if h.Baselines != nil {
		var berr error
		base, hasBase, berr = h.Baselines.Load(ctx, shop, AlertScheme)
		if berr != nil {
			log.WithError(berr).Warn("alert baseline unavailable, alert skipped")
			hasBase = false
		}
	}

	for _, scheme := range Schemes {
		rep, err := h.Engine.Run(ctx, segment.RunRequest{Tenant: shop, Scheme: scheme, Persist: true})
		if err != nil {
			return exported, sent, err
		}
		if rep.Degraded {
			return exported, sent, fmt.Errorf("%s: source unavailable", scheme)
		}

		if h.Exporter != nil && h.Exporter.Enabled() {
			key, err := h.Exporter.Export(ctx, rep)
			if err != nil {
				log.WithError(err).WithField("scheme", string(scheme)).Warn("snapshot export failed")
			} else {
				exported++
				log.WithFields(logrus.Fields{"scheme": string(scheme), "key": key}).Debug("snapshot exported")
			}
		}

		if scheme == AlertScheme {
			if hasBase {
				sent += h.alert(ctx, log, base, rep)
			}
			if h.Baselines != nil {
				if err := h.Baselines.Store(ctx, rep); err != nil {
					log.WithError(err).Warn("alert baseline not stored")
				}
			}
		}
	}
	return exported, sent, nil
}

func (h *SegmentRefresh) alert(ctx context.Context, log *logrus.Entry, base float64, cur *segment.Report) int {
	if h.Alerts == nil || h.Links == nil {
		return 0
	}
	a, ok := users.CompareShare(base, cur, h.AlertDeltaPct)
	if !ok {
		return 0
	}
	subs, err := h.Links.UsersForShop(ctx, cur.Tenant)
	if err != nil || len(subs) == 0 {
		log.WithError(err).Warn("no users to alert")
		return 0
	}
	subject, body := users.BuildMessage(a)
	sent, err := h.Alerts.Publish(ctx, subs, subject, body)
	if err != nil {
		log.WithError(err).Warn("alert publish failed")
	}
	log.WithFields(logrus.Fields{"sent": sent, "delta": a.Delta()}).Info("at-risk alert")
	return sent
}
