package users

import (
	"fmt"
	"strings"
	"time"

	"shopmetrics/internal/segment"
)

// riskLabels are the segments whose growth means customers are slipping away.
var riskLabels = map[segment.Scheme][]segment.Label{
	segment.SchemeRFM:       {segment.AtRisk, segment.CannotLoseThem},
	segment.SchemeLifecycle: {segment.AtRiskCustomers, segment.DefectingCustomers},
}

// AtRiskShare is the percentage of customers in the scheme's risk segments.
func AtRiskShare(rep *segment.Report) float64 {
	if rep == nil {
		return 0
	}
	share := 0.0
	for _, s := range rep.Segments {
		for _, l := range riskLabels[rep.Scheme] {
			if s.Label == l {
				share += s.Percentage
			}
		}
	}
	return share
}

// RiskAlert describes an increase of the at-risk share over the baseline.
type RiskAlert struct {
	Shop      string
	Scheme    segment.Scheme
	Previous  float64
	Current   float64
	Customers int
	At        time.Time
}

func (a RiskAlert) Delta() float64 { return a.Current - a.Previous }

// CompareShare alerts when cur's at-risk share rose by at least thresholdPct
// points over prevShare. An empty report never alerts.
func CompareShare(prevShare float64, cur *segment.Report, thresholdPct float64) (RiskAlert, bool) {
	if cur == nil || cur.TotalCustomers == 0 {
		return RiskAlert{}, false
	}
	a := RiskAlert{
		Shop:     cur.Tenant,
		Scheme:   cur.Scheme,
		Previous: prevShare,
		Current:  AtRiskShare(cur),
		At:       cur.GeneratedAt,
	}
	for _, s := range cur.Segments {
		for _, l := range riskLabels[cur.Scheme] {
			if s.Label == l {
				a.Customers += s.CustomerCount
			}
		}
	}
	if a.Delta() < thresholdPct || a.Delta() <= 0 {
		return RiskAlert{}, false
	}
	return a, true
}

// BuildMessage renders the plain-text email SNS delivers.
func BuildMessage(a RiskAlert) (subject string, body string) {
	subject = fmt.Sprintf("ShopMetrics: at-risk customers up %.1f pts (%s)", a.Delta(), a.Shop)

	lines := []string{
		"ShopMetrics Segment Alert",
		"",
		fmt.Sprintf("Shop: %s", a.Shop),
		fmt.Sprintf("Scheme: %s", a.Scheme),
		fmt.Sprintf("At-risk share: %.1f%% -> %.1f%%", a.Previous, a.Current),
		fmt.Sprintf("At-risk customers: %d", a.Customers),
	}
	if !a.At.IsZero() {
		lines = append(lines, "", fmt.Sprintf("GeneratedAt: %s", a.At.UTC().Format(time.RFC3339)))
	}
	body = strings.Join(lines, "\n")
	return subject, body
}
