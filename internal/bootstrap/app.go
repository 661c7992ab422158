// Package bootstrap builds the shared dependencies every Lambda needs from
// the environment: config, logger, AWS clients and the selected store.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/sirupsen/logrus"

	"shopmetrics/internal/config"
	"shopmetrics/internal/db"
	"shopmetrics/internal/etl"
	"shopmetrics/internal/ingest"
	"shopmetrics/internal/insights"
	"shopmetrics/internal/logger"
	"shopmetrics/internal/pg"
	"shopmetrics/internal/retry"
	"shopmetrics/internal/segment"
	"shopmetrics/internal/shopify"
	"shopmetrics/internal/snapshot"
	"shopmetrics/internal/tenancy"
	"shopmetrics/internal/users"
)

// Data is a customer/order store that can also take webhook and sync writes.
type Data interface {
	segment.Source
	shopify.Sink
}

type App struct {
	Cfg    *config.Config
	AWS    aws.Config
	Log    *logrus.Logger
	DDB    db.Client
	Tables db.Tables

	Data         Data
	Store        segment.Store
	Engine       *segment.Engine
	Integrations *shopify.Integrations
	Deduper      *shopify.Deduper
	States       *shopify.States
	Directory    *tenancy.Directory
	Shopify      *shopify.Client
}

// Init is called once per cold start.
func Init(ctx context.Context, fn string) (*App, error) {
	log := logger.New(fn)

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.NeedsSSM() {
		if err := cfg.ResolveSecrets(ctx, ssm.NewFromConfig(awsCfg)); err != nil {
			return nil, err
		}
	}

	app := &App{
		Cfg:    cfg,
		AWS:    awsCfg,
		Log:    log,
		DDB:    db.NewDynamoClient(awsCfg),
		Tables: db.TablesFrom(cfg),
	}
	if err := app.openStore(ctx); err != nil {
		return nil, err
	}
	return app, app.wire()
}

// New wires an App around an already configured client and store. Tests and
// the backfill CLI use it.
func New(cfg *config.Config, log *logrus.Logger, ddb db.Client, data Data, store segment.Store) (*App, error) {
	app := &App{Cfg: cfg, Log: log, DDB: ddb, Tables: db.TablesFrom(cfg), Data: data, Store: store}
	return app, app.wire()
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Cfg.StoreBackend {
	case config.BackendPostgres:
		gdb, err := pg.Connect(ctx, a.Cfg.DatabaseURL, a.Log)
		if err != nil {
			return err
		}
		if err := pg.RunMigrations(ctx, gdb, a.Log); err != nil {
			return err
		}
		repo := pg.NewRepository(gdb)
		a.Data, a.Store = repo, repo
	default:
		a.Data = db.NewShopData(a.DDB, a.Tables)
		a.Store = db.NewClusterStore(a.DDB, a.Tables.Clusters, a.Log)
	}
	return nil
}

func (a *App) wire() error {
	a.Engine = segment.NewEngine(a.Data, a.Store, a.Log)

	integ, err := shopify.NewIntegrations(a.DDB, a.Tables, a.Cfg.TokenEncKeyB64)
	if err != nil {
		return err
	}
	a.Integrations = integ
	a.Deduper = shopify.NewDeduper(a.DDB, a.Tables.WebhookDedupe)
	a.States = shopify.NewStates(a.DDB, a.Tables.OAuthState)
	a.Directory = tenancy.NewDirectory(a.DDB, a.Tables.ShopToUser, a.Tables.ShopToUserGSI)
	a.Shopify = shopify.NewClient(a.Cfg.ShopifyAPIVersion)
	return nil
}

// Processor applies webhook deliveries and reclassifies touched shops.
func (a *App) Processor() *ingest.Processor {
	return &ingest.Processor{
		Writer:  a.Data,
		Claims:  a.Deduper,
		Tracker: a.Integrations,
		Engine:  a.Engine,
		Retry: retry.Policy{
			Attempts: a.Cfg.WebhookRetryAttempts,
			Delay:    time.Duration(a.Cfg.WebhookRetryDelayMs) * time.Millisecond,
			Backoff:  retry.Linear,
		},
		Log: a.Log,
	}
}

func (a *App) Exporter() *snapshot.Exporter {
	return &snapshot.Exporter{
		S3:       s3.NewFromConfig(a.AWS),
		Glue:     glue.NewFromConfig(a.AWS),
		Bucket:   a.Cfg.AnalyticsBucket,
		Prefix:   a.Cfg.SnapshotPrefix,
		Database: a.Cfg.GlueDatabase,
		Table:    a.Cfg.SnapshotTable,
		Log:      a.Log,
	}
}

func (a *App) History() *snapshot.History {
	return &snapshot.History{
		Athena: athena.NewFromConfig(a.AWS),
		Table:  a.Cfg.SnapshotTable,
		Options: snapshot.AthenaRunOptions{
			Database:       a.Cfg.GlueDatabase,
			Workgroup:      a.Cfg.AthenaWorkgroup,
			OutputLocation: a.Cfg.AthenaOutput,
		},
	}
}

func (a *App) Advisor() *insights.Advisor {
	return &insights.Advisor{
		Bedrock: bedrockruntime.NewFromConfig(a.AWS),
		ModelID: a.Cfg.BedrockModelID,
		Cache:   insights.NewCache(a.DDB, a.Tables.InsightsCache, a.Cfg.InsightsCacheTTL),
		Log:     a.Log,
	}
}

func (a *App) Alerts() *users.Alerts {
	return users.NewAlerts(a.DDB, sns.NewFromConfig(a.AWS), a.Tables.Users, a.Cfg.AlertsStage)
}

// Refresh is the scheduled reclassification job. Snapshots are only exported
// when ANALYTICS_BUCKET is set; shops are pulled first when a token key exists.
func (a *App) Refresh() *etl.SegmentRefresh {
	job := &etl.SegmentRefresh{
		Shops:         a.Directory,
		Engine:        a.Engine,
		Exporter:      a.Exporter(),
		Links:         a.Integrations,
		Alerts:        a.Alerts(),
		Baselines:     users.NewBaselines(a.DDB, a.Tables.AlertBaseline),
		AlertDeltaPct: a.Cfg.AlertAtRiskDeltaPct,
		Log:           a.Log,
	}
	if a.Cfg.RefreshPull && a.Integrations.Cipher != nil {
		job.Puller = a.Puller()
	}
	return job
}

// Puller syncs a shop with the token of any linked user.
func (a *App) Puller() *shopify.Puller {
	return &shopify.Puller{
		Integrations: a.Integrations,
		Client:       a.Shopify,
		Sink:         a.Data,
		Limit:        a.Cfg.ShopifySyncLimit,
	}
}
