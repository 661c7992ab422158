package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopmetrics/internal/db"
	"shopmetrics/internal/db/dbtest"
	"shopmetrics/internal/segment"
)

type fakeSNS struct {
	created    []string
	subscribed []string
	published  map[string]string
	publishErr error
}

func (f *fakeSNS) CreateTopic(_ context.Context, in *sns.CreateTopicInput, _ ...func(*sns.Options)) (*sns.CreateTopicOutput, error) {
	f.created = append(f.created, aws.ToString(in.Name))
	return &sns.CreateTopicOutput{TopicArn: aws.String("arn:aws:sns:us-east-1:1:" + aws.ToString(in.Name))}, nil
}

func (f *fakeSNS) Subscribe(_ context.Context, in *sns.SubscribeInput, _ ...func(*sns.Options)) (*sns.SubscribeOutput, error) {
	f.subscribed = append(f.subscribed, aws.ToString(in.Endpoint))
	return &sns.SubscribeOutput{}, nil
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	if f.published == nil {
		f.published = map[string]string{}
	}
	f.published[aws.ToString(in.TopicArn)] = aws.ToString(in.Subject)
	return &sns.PublishOutput{}, nil
}

func newAlerts(mem *dbtest.Memory, s *fakeSNS) *Alerts {
	a := NewAlerts(mem, s, "users", "")
	a.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return a
}

func TestEnsureEmailAlerts_Once(t *testing.T) {
	mem, s := dbtest.NewMemory(), &fakeSNS{}
	a := newAlerts(mem, s)

	arn, err := a.EnsureEmailAlerts(context.Background(), "sub-1", "owner@example.com")
	require.NoError(t, err)
	assert.Contains(t, arn, "shopmetrics-user-alerts-dev-")

	again, err := a.EnsureEmailAlerts(context.Background(), "sub-1", "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, arn, again)
	assert.Len(t, s.created, 1)
	assert.Equal(t, []string{"owner@example.com"}, s.subscribed)

	items := mem.Items("users")
	require.Len(t, items, 1)
	assert.Equal(t, "USER#sub-1", db.AttrS(items[0]["PK"]))
	assert.Equal(t, arn, db.AttrS(items[0]["AlertsTopicArn"]))
}

func TestEnsureEmailAlerts_NoEmail(t *testing.T) {
	s := &fakeSNS{}
	arn, err := newAlerts(dbtest.NewMemory(), s).EnsureEmailAlerts(context.Background(), "sub-1", " ")
	require.NoError(t, err)
	assert.Empty(t, arn)
	assert.Empty(t, s.created)
}

func TestPublish_SkipsUsersWithoutTopic(t *testing.T) {
	mem, s := dbtest.NewMemory(), &fakeSNS{}
	a := newAlerts(mem, s)
	arn, err := a.EnsureEmailAlerts(context.Background(), "sub-1", "owner@example.com")
	require.NoError(t, err)

	sent, err := a.Publish(context.Background(), []string{"sub-1", "sub-2"}, "subj", "body")
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, "subj", s.published[arn])

	s.publishErr = errors.New("endpoint disabled")
	sent, err = a.Publish(context.Background(), []string{"sub-1"}, "subj", "body")
	assert.Zero(t, sent)
	assert.ErrorContains(t, err, "endpoint disabled")
}

func rfmReport(total int, atRisk, cannotLose float64) *segment.Report {
	return &segment.Report{
		Tenant:         "demo.myshopify.com",
		Scheme:         segment.SchemeRFM,
		TotalCustomers: total,
		Segments: []segment.Summary{
			{Label: segment.Champions, CustomerCount: 1, Percentage: 100 - atRisk - cannotLose},
			{Label: segment.AtRisk, CustomerCount: 2, Percentage: atRisk},
			{Label: segment.CannotLoseThem, CustomerCount: 1, Percentage: cannotLose},
		},
	}
}

func TestAtRiskShare(t *testing.T) {
	assert.InDelta(t, 30, AtRiskShare(rfmReport(10, 20, 10)), 1e-9)
	assert.Zero(t, AtRiskShare(nil))

	lc := &segment.Report{Scheme: segment.SchemeLifecycle, Segments: []segment.Summary{
		{Label: segment.AtRiskCustomers, Percentage: 12},
		{Label: segment.DefectingCustomers, Percentage: 8},
		{Label: segment.BestCustomers, Percentage: 80},
	}}
	assert.InDelta(t, 20, AtRiskShare(lc), 1e-9)
}

func TestCompareShare(t *testing.T) {
	a, ok := CompareShare(10, rfmReport(10, 12, 4), 5)
	require.True(t, ok)
	assert.InDelta(t, 6, a.Delta(), 1e-9)
	assert.Equal(t, 3, a.Customers)
	assert.Equal(t, "demo.myshopify.com", a.Shop)

	_, ok = CompareShare(10, rfmReport(10, 12, 2), 5)
	assert.False(t, ok, "below threshold")

	_, ok = CompareShare(10, rfmReport(10, 5, 0), 0)
	assert.False(t, ok, "shrinking never alerts")

	_, ok = CompareShare(0, &segment.Report{Scheme: segment.SchemeRFM}, 0)
	assert.False(t, ok, "empty report")

	_, ok = CompareShare(0, nil, 0)
	assert.False(t, ok)
}

func TestBaselines_StoreLoad(t *testing.T) {
	mem := dbtest.NewMemory()
	b := NewBaselines(mem, "baselines")
	ctx := context.Background()

	_, ok, err := b.Load(ctx, "demo.myshopify.com", segment.SchemeRFM)
	require.NoError(t, err)
	assert.False(t, ok, "no refresh yet")

	rep := rfmReport(10, 20, 5)
	rep.GeneratedAt = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	require.NoError(t, b.Store(ctx, rep))

	share, ok, err := b.Load(ctx, "demo.myshopify.com", segment.SchemeRFM)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 25, share, 1e-9)

	_, ok, err = b.Load(ctx, "demo.myshopify.com", segment.SchemeLifecycle)
	require.NoError(t, err)
	assert.False(t, ok, "per scheme")

	require.NoError(t, b.Store(ctx, &segment.Report{Tenant: "demo.myshopify.com", Scheme: segment.SchemeRFM}))
	share, _, err = b.Load(ctx, "demo.myshopify.com", segment.SchemeRFM)
	require.NoError(t, err)
	assert.InDelta(t, 25, share, 1e-9, "empty run keeps the baseline")

	items := mem.Items("baselines")
	require.Len(t, items, 1)
	assert.Equal(t, "BASELINE#demo.myshopify.com#rfm", db.AttrS(items[0]["PK"]))
	assert.Equal(t, "2026-03-02T06:00:00Z", db.AttrS(items[0]["UpdatedAt"]))
}

func TestBaselines_NoTable(t *testing.T) {
	b := NewBaselines(dbtest.NewMemory(), "")
	require.NoError(t, b.Store(context.Background(), rfmReport(10, 20, 5)))
	_, ok, err := b.Load(context.Background(), "demo.myshopify.com", segment.SchemeRFM)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildMessage(t *testing.T) {
	subject, body := BuildMessage(RiskAlert{Shop: "demo.myshopify.com", Scheme: segment.SchemeRFM, Previous: 10, Current: 16.5, Customers: 3,
		At: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, "ShopMetrics: at-risk customers up 6.5 pts (demo.myshopify.com)", subject)
	assert.Contains(t, body, "At-risk share: 10.0% -> 16.5%")
	assert.Contains(t, body, "GeneratedAt: 2026-03-01T00:00:00Z")
}
