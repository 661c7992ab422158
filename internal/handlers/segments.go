package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"shopmetrics/internal/insights"
	"shopmetrics/internal/segment"
	"shopmetrics/internal/snapshot"
	"shopmetrics/internal/tenancy"
)

type ShopAuthorizer interface {
	Authorize(ctx context.Context, userSub, shop string) (string, error)
}

type Trender interface {
	Trend(ctx context.Context, shop string, scheme segment.Scheme, days int) ([]snapshot.Point, error)
}

type Adviser interface {
	Advise(ctx context.Context, rep *segment.Report) (*insights.Response, error)
}

type AlertEnroller interface {
	EnsureEmailAlerts(ctx context.Context, sub, email string) (string, error)
}

// Segments serves the /segments routes. History, Advisor and Alerts are optional.
type Segments struct {
	Engine   *segment.Engine
	Tenancy  ShopAuthorizer
	History  Trender
	Advisor  Adviser
	Alerts   AlertEnroller
	Validate *validator.Validate
	Log      *logrus.Logger
}

type segmentsQuery struct {
	Shop      string `json:"shop" validate:"required,max=255"`
	Scheme    string `json:"scheme" validate:"omitempty,oneof=rfm lifecycle"`
	StartDate string `json:"startDate" validate:"omitempty,max=40"`
	EndDate   string `json:"endDate" validate:"omitempty,max=40"`
	Customers bool   `json:"customers"`
	Rollups   bool   `json:"rollups"`
}

type historyQuery struct {
	Shop   string `validate:"required,max=255"`
	Scheme string `validate:"omitempty,oneof=rfm lifecycle"`
	Days   int    `validate:"min=1,max=365"`
}

func NewSegments(engine *segment.Engine, dir ShopAuthorizer, log *logrus.Logger) *Segments {
	return &Segments{Engine: engine, Tenancy: dir, Validate: validator.New(), Log: log}
}

func (h *Segments) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, email, err := userSub(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}
	if h.Alerts != nil {
		// creates user topic + sends confirm email once
		if _, err := h.Alerts.EnsureEmailAlerts(ctx, sub, email); err != nil {
			h.Log.WithError(err).Warn("ensure email alerts failed")
		}
	}

	method := req.RequestContext.HTTP.Method
	switch strings.TrimRight(req.RawPath, "/") {
	case "/segments":
		if method != "GET" {
			return errResp(405, "method not allowed")
		}
		return h.report(ctx, sub, queryFrom(req.QueryStringParameters), false)
	case "/segments/refresh":
		if method != "POST" {
			return errResp(405, "method not allowed")
		}
		var q segmentsQuery
		body, err := rawBody(req)
		if err != nil || json.Unmarshal(body, &q) != nil {
			return errResp(400, "invalid json body")
		}
		return h.report(ctx, sub, q, true)
	case "/segments/saved":
		if method != "GET" {
			return errResp(405, "method not allowed")
		}
		return h.saved(ctx, sub, queryFrom(req.QueryStringParameters))
	case "/segments/history":
		if method != "GET" {
			return errResp(405, "method not allowed")
		}
		return h.history(ctx, sub, req.QueryStringParameters)
	case "/segments/insights":
		if method != "GET" {
			return errResp(405, "method not allowed")
		}
		return h.insights(ctx, sub, queryFrom(req.QueryStringParameters))
	default:
		return errResp(404, "not found")
	}
}

func queryFrom(p map[string]string) segmentsQuery {
	return segmentsQuery{
		Shop:      p["shop"],
		Scheme:    strings.ToLower(strings.TrimSpace(p["scheme"])),
		StartDate: p["startDate"],
		EndDate:   p["endDate"],
		Customers: p["customers"] == "true" || p["customers"] == "1",
		Rollups:   p["rollups"] == "true" || p["rollups"] == "1",
	}
}

// authorize validates q and resolves the shop the caller may read.
func (h *Segments) authorize(ctx context.Context, sub string, q any, shop string) (string, *events.APIGatewayV2HTTPResponse) {
	if err := h.Validate.Struct(q); err != nil {
		resp, _ := errResp(400, validationMessage(err))
		return "", &resp
	}
	allowed, err := h.Tenancy.Authorize(ctx, sub, shop)
	switch {
	case errors.Is(err, tenancy.ErrInvalidShop):
		resp, _ := errResp(400, err.Error())
		return "", &resp
	case errors.Is(err, tenancy.ErrForbidden):
		resp, _ := errResp(403, "forbidden")
		return "", &resp
	case err != nil:
		h.Log.WithError(err).Error("shop lookup failed")
		resp, _ := errResp(500, "shop lookup failed")
		return "", &resp
	}
	return allowed, nil
}

func (h *Segments) report(ctx context.Context, sub string, q segmentsQuery, persist bool) (events.APIGatewayV2HTTPResponse, error) {
	q.Scheme = strings.ToLower(strings.TrimSpace(q.Scheme))
	shop, bad := h.authorize(ctx, sub, q, q.Shop)
	if bad != nil {
		return *bad, nil
	}
	scheme, err := segment.ParseScheme(q.Scheme)
	if err != nil {
		return errResp(400, err.Error())
	}
	rng, err := segment.ParseDateRange(q.StartDate, q.EndDate)
	if err != nil {
		return errResp(400, err.Error())
	}

	rep, err := h.Engine.Run(ctx, segment.RunRequest{
		Tenant:        shop,
		Scheme:        scheme,
		Range:         rng,
		Persist:       persist,
		UseRollups:    q.Rollups,
		WithCustomers: q.Customers,
	})
	if err != nil {
		h.Log.WithError(err).WithFields(logrus.Fields{"shop": shop, "scheme": string(scheme)}).Error("segment run failed")
		return errResp(500, "failed to save segments")
	}
	return jsonResp(200, rep)
}

func (h *Segments) saved(ctx context.Context, sub string, q segmentsQuery) (events.APIGatewayV2HTTPResponse, error) {
	shop, bad := h.authorize(ctx, sub, q, q.Shop)
	if bad != nil {
		return *bad, nil
	}
	scheme, err := segment.ParseScheme(q.Scheme)
	if err != nil {
		return errResp(400, err.Error())
	}
	rep, err := h.Engine.Saved(ctx, shop, scheme)
	if err != nil {
		h.Log.WithError(err).WithField("shop", shop).Error("load saved segments failed")
		return errResp(500, "failed to load saved segments")
	}
	return jsonResp(200, rep)
}

func (h *Segments) history(ctx context.Context, sub string, p map[string]string) (events.APIGatewayV2HTTPResponse, error) {
	if h.History == nil {
		return errResp(501, "history not configured")
	}
	q := historyQuery{Shop: p["shop"], Scheme: strings.ToLower(strings.TrimSpace(p["scheme"])), Days: 30}
	if s := strings.TrimSpace(p["days"]); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return errResp(400, "days must be a number")
		}
		q.Days = n
	}
	shop, bad := h.authorize(ctx, sub, q, q.Shop)
	if bad != nil {
		return *bad, nil
	}
	scheme, _ := segment.ParseScheme(q.Scheme)

	points, err := h.History.Trend(ctx, shop, scheme, q.Days)
	if err != nil {
		h.Log.WithError(err).WithField("shop", shop).Error("history query failed")
		return errResp(502, "history query failed")
	}
	return jsonResp(200, map[string]any{
		"shop":   shop,
		"scheme": scheme,
		"days":   q.Days,
		"points": points,
	})
}

func (h *Segments) insights(ctx context.Context, sub string, q segmentsQuery) (events.APIGatewayV2HTTPResponse, error) {
	if h.Advisor == nil {
		return errResp(501, "insights not configured")
	}
	shop, bad := h.authorize(ctx, sub, q, q.Shop)
	if bad != nil {
		return *bad, nil
	}
	scheme, _ := segment.ParseScheme(q.Scheme)

	rep, err := h.Engine.Run(ctx, segment.RunRequest{Tenant: shop, Scheme: scheme})
	if err != nil {
		return errResp(500, "segment run failed")
	}
	resp, err := h.Advisor.Advise(ctx, rep)
	if err != nil {
		h.Log.WithError(err).WithField("shop", shop).Error("insights failed")
		return errResp(502, "insights unavailable")
	}
	return jsonResp(200, resp)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, strings.ToLower(fe.Field())+" is required")
		case "oneof":
			msgs = append(msgs, strings.ToLower(fe.Field())+" must be one of: "+fe.Param())
		default:
			msgs = append(msgs, strings.ToLower(fe.Field())+" is invalid ("+fe.Tag()+")")
		}
	}
	return strings.Join(msgs, "; ")
}
