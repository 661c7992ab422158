package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
)

const (
	BackendDynamo   = "dynamodb"
	BackendPostgres = "postgres"
)

// Config is read once per cold start. Table names and buckets are the same
// environment variables the infrastructure templates export.
type Config struct {
	AppEnv       string `env:"APP_ENV" envDefault:"prod"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	StoreBackend string `env:"STORE_BACKEND" envDefault:"dynamodb"`

	CustomersTable     string `env:"CUSTOMERS_TABLE"`
	OrdersTable        string `env:"ORDERS_TABLE"`
	ClustersTable      string `env:"CLUSTERS_TABLE"`
	IntegrationsTable  string `env:"INTEGRATIONS_TABLE"`
	OAuthStateTable    string `env:"OAUTH_STATE_TABLE"`
	ShopToUserTable    string `env:"SHOP_TO_USER_TABLE"`
	ShopToUserGSI      string `env:"SHOP_TO_USER_GSI_USERSUB" envDefault:"GSI_UserSub"`
	UsersTable         string `env:"USERS_TABLE"`
	WebhookDedupeTable string `env:"SHOPIFY_WEBHOOK_DEDUPE_TABLE"`
	InsightsCacheTable string `env:"INSIGHTS_CACHE_TABLE"`
	AlertBaselineTable string `env:"ALERT_BASELINE_TABLE"`
	InsightsCacheTTL   int    `env:"INSIGHTS_CACHE_TTL_SECONDS" envDefault:"3600"`

	DatabaseURL         string `env:"DATABASE_URL"`
	DatabaseURLSSMParam string `env:"DATABASE_URL_SSM_PARAM"`

	ShopifyAPIKey            string `env:"SHOPIFY_API_KEY"`
	ShopifyAPISecret         string `env:"SHOPIFY_API_SECRET"`
	ShopifyAPISecretSSMParam string `env:"SHOPIFY_API_SECRET_SSM_PARAM"`
	ShopifyScopes            string `env:"SHOPIFY_SCOPES" envDefault:"read_customers,read_orders"`
	ShopifyRedirectBase      string `env:"SHOPIFY_REDIRECT_BASE"`
	ShopifyAPIVersion        string `env:"SHOPIFY_API_VERSION" envDefault:"2026-01"`
	EventBridgeSourceARN     string `env:"SHOPIFY_EVENTBRIDGE_SOURCE_ARN"`
	FrontendBaseURL          string `env:"FRONTEND_BASE_URL"`

	TokenEncKeyB64      string `env:"TOKEN_ENC_KEY_B64"`
	TokenEncKeySSMParam string `env:"TOKEN_ENC_KEY_SSM_PARAM"`

	AnalyticsBucket string `env:"ANALYTICS_BUCKET"`
	SnapshotPrefix  string `env:"SEGMENT_SNAPSHOT_PREFIX" envDefault:"segment_snapshots/"`
	GlueDatabase    string `env:"GLUE_DATABASE"`
	SnapshotTable   string `env:"SEGMENT_SNAPSHOT_TABLE" envDefault:"segment_snapshots"`
	AthenaWorkgroup string `env:"ATHENA_WORKGROUP" envDefault:"primary"`
	AthenaOutput    string `env:"ATHENA_OUTPUT"`

	BedrockModelID string `env:"BEDROCK_MODEL_ID"`

	RefreshPull      bool `env:"SEGMENT_REFRESH_PULL" envDefault:"true"`
	ShopifySyncLimit int  `env:"SHOPIFY_SYNC_LIMIT" envDefault:"250"`

	AlertsStage          string  `env:"ALERTS_STAGE" envDefault:"dev"`
	AlertAtRiskDeltaPct  float64 `env:"ALERT_AT_RISK_DELTA_PCT" envDefault:"5"`
	WebhookRetryAttempts int     `env:"WEBHOOK_RETRY_ATTEMPTS" envDefault:"3"`
	WebhookRetryDelayMs  int     `env:"WEBHOOK_RETRY_DELAY_MS" envDefault:"500"`
}

// Load reads .env (local runs only) and the process environment.
func Load() (*Config, error) {
	if isLocal() {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isLocal() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("APP_ENV")), "local")
}

// Validate checks the settings every function needs regardless of role.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendDynamo:
		if strings.TrimSpace(c.CustomersTable) == "" || strings.TrimSpace(c.OrdersTable) == "" || strings.TrimSpace(c.ClustersTable) == "" {
			return fmt.Errorf("STORE_BACKEND=dynamodb requires CUSTOMERS_TABLE, ORDERS_TABLE and CLUSTERS_TABLE")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" && strings.TrimSpace(c.DatabaseURLSSMParam) == "" {
			return fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL or DATABASE_URL_SSM_PARAM")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.AlertAtRiskDeltaPct < 0 {
		return fmt.Errorf("ALERT_AT_RISK_DELTA_PCT must be >= 0")
	}
	if c.WebhookRetryAttempts < 1 {
		c.WebhookRetryAttempts = 1
	}
	return nil
}

type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolveSecrets fills secret fields from SSM when only the parameter name is
// set. A value already present in the environment wins.
func (c *Config) ResolveSecrets(ctx context.Context, client SSMClient) error {
	targets := []struct {
		param string
		dst   *string
	}{
		{c.DatabaseURLSSMParam, &c.DatabaseURL},
		{c.ShopifyAPISecretSSMParam, &c.ShopifyAPISecret},
		{c.TokenEncKeySSMParam, &c.TokenEncKeyB64},
	}
	for _, t := range targets {
		name := strings.TrimSpace(t.param)
		if name == "" || strings.TrimSpace(*t.dst) != "" {
			continue
		}
		out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(name),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return fmt.Errorf("ssm GetParameter %s: %w", name, err)
		}
		if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
			return fmt.Errorf("ssm parameter %s is empty", name)
		}
		*t.dst = aws.ToString(out.Parameter.Value)
	}
	return nil
}

// NeedsSSM reports whether ResolveSecrets has anything to fetch.
func (c *Config) NeedsSSM() bool {
	return (c.DatabaseURLSSMParam != "" && c.DatabaseURL == "") ||
		(c.ShopifyAPISecretSSMParam != "" && c.ShopifyAPISecret == "") ||
		(c.TokenEncKeySSMParam != "" && c.TokenEncKeyB64 == "")
}
