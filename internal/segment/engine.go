package segment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Source reads a tenant's customers and orders.
type Source interface {
	Customers(ctx context.Context, tenant string) ([]Customer, error)
	Orders(ctx context.Context, tenant string, r DateRange) ([]Order, error)
}

// Store persists the latest classification of a tenant, one row per customer.
type Store interface {
	Save(ctx context.Context, tenant string, scheme Scheme, records []Classified) error
	Load(ctx context.Context, tenant string, scheme Scheme) ([]Classified, error)
}

var ErrMissingTenant = errors.New("missing tenant")

type RunRequest struct {
	Tenant  string
	Scheme  Scheme
	Range   DateRange
	Persist bool
	// UseRollups classifies from the totals on the customer rows instead of
	// re-deriving them from orders. Range is ignored in that mode.
	UseRollups bool
	// WithCustomers attaches every classified record to the report.
	WithCustomers bool
}

// Engine runs extract → classify → aggregate → (persist) for one tenant.
type Engine struct {
	Source Source
	Store  Store
	Now    func() time.Time
	Log    *logrus.Logger
}

func NewEngine(src Source, store Store, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{Source: src, Store: store, Now: time.Now, Log: log}
}

// Run never fails on read errors: they are logged and the report comes back
// empty with Degraded set. A failed Save is returned to the caller together
// with the computed report.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*Report, error) {
	tenant := strings.TrimSpace(req.Tenant)
	if tenant == "" {
		return nil, ErrMissingTenant
	}
	st, err := StrategyFor(req.Scheme)
	if err != nil {
		return nil, err
	}

	now := e.Now().UTC()
	log := e.Log.WithFields(logrus.Fields{"shop": tenant, "scheme": string(req.Scheme)})

	rep := &Report{
		Tenant:      tenant,
		Scheme:      req.Scheme,
		GeneratedAt: now,
		Range:       req.Range,
		Segments:    []Summary{},
	}

	features, err := e.features(ctx, tenant, req, now)
	if err != nil {
		log.WithError(err).Warn("segment source read failed")
		rep.Degraded = true
		return rep, nil
	}

	classified := ClassifyAll(st, features)
	rep.TotalCustomers = len(classified)
	rep.Segments = Aggregate(st, classified)
	if req.WithCustomers {
		rep.Customers = classified
	}

	if req.Persist {
		if e.Store == nil {
			return rep, fmt.Errorf("persist requested but no store configured")
		}
		if err := e.Store.Save(ctx, tenant, req.Scheme, classified); err != nil {
			log.WithError(err).Error("segment save failed")
			return rep, fmt.Errorf("save %s segments for %s: %w", req.Scheme, tenant, err)
		}
		rep.Persisted = true
	}

	log.WithFields(logrus.Fields{
		"customers": rep.TotalCustomers,
		"segments":  len(rep.Segments),
		"persisted": rep.Persisted,
	}).Info("segments computed")
	return rep, nil
}

func (e *Engine) features(ctx context.Context, tenant string, req RunRequest, now time.Time) ([]Features, error) {
	customers, err := e.Source.Customers(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	if req.UseRollups {
		return FromRollups(customers, now), nil
	}
	orders, err := e.Source.Orders(ctx, tenant, req.Range)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	return Extract(customers, orders, now), nil
}

// Saved rebuilds a report from the persisted classification rows.
func (e *Engine) Saved(ctx context.Context, tenant string, scheme Scheme) (*Report, error) {
	if strings.TrimSpace(tenant) == "" {
		return nil, ErrMissingTenant
	}
	st, err := StrategyFor(scheme)
	if err != nil {
		return nil, err
	}
	if e.Store == nil {
		return nil, fmt.Errorf("no store configured")
	}
	rows, err := e.Store.Load(ctx, tenant, scheme)
	if err != nil {
		return nil, fmt.Errorf("load saved %s segments for %s: %w", scheme, tenant, err)
	}
	return &Report{
		Tenant:         tenant,
		Scheme:         scheme,
		GeneratedAt:    e.Now().UTC(),
		TotalCustomers: len(rows),
		Segments:       Aggregate(st, rows),
		Persisted:      true,
	}, nil
}
