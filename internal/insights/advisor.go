package insights

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"shopmetrics/internal/segment"
)

// Response is what GET /segments/insights returns.
type Response struct {
	Shop        string         `json:"shop"`
	Scheme      segment.Scheme `json:"scheme"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Cached      bool           `json:"cached"`
	Result
}

type Advisor struct {
	Bedrock BedrockClient
	ModelID string
	Cache   *Cache
	Log     *logrus.Logger
}

// Advise answers from the cache when the report has not changed, otherwise
// asks the model. Cache failures only cost a model call.
func (a *Advisor) Advise(ctx context.Context, rep *segment.Report) (*Response, error) {
	resp := &Response{Shop: rep.Tenant, Scheme: rep.Scheme, GeneratedAt: rep.GeneratedAt}

	if len(rep.Segments) == 0 {
		resp.Headline = "No customers to segment yet."
		resp.Actions = []Action{}
		return resp, nil
	}

	hit, ok, err := a.Cache.Get(ctx, rep)
	if err != nil {
		a.Log.WithError(err).Warn("insights cache read failed")
	}
	if ok {
		resp.Result = *hit
		resp.Cached = true
		return resp, nil
	}

	res, err := Invoke(ctx, a.Bedrock, a.ModelID, BuildPrompt(rep))
	if err != nil {
		return nil, err
	}
	if err := a.Cache.Put(ctx, rep, res); err != nil {
		a.Log.WithError(err).Warn("insights cache write failed")
	}
	resp.Result = *res
	return resp, nil
}
