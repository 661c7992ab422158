package segment

import (
	"encoding/json"
	"fmt"
	"time"
)

// Row is the persisted shape of one classified customer, keyed by
// (TenantID, Scheme, CustomerID). Features holds the JSON of features+scores.
type Row struct {
	TenantID     string
	Scheme       Scheme
	CustomerID   string
	ClusterLabel Label
	Features     []byte
	Confidence   float64
	UpdatedAt    time.Time
}

type featureDoc struct {
	Features
	Scores
}

// ToRow encodes a classified record for storage.
func ToRow(tenant string, scheme Scheme, c Classified, at time.Time) (Row, error) {
	b, err := json.Marshal(featureDoc{Features: c.Features, Scores: c.Scores})
	if err != nil {
		return Row{}, fmt.Errorf("encode features for %s: %w", c.CustomerID, err)
	}
	return Row{
		TenantID:     tenant,
		Scheme:       scheme,
		CustomerID:   c.CustomerID,
		ClusterLabel: c.Label,
		Features:     b,
		Confidence:   c.Confidence,
		UpdatedAt:    at.UTC(),
	}, nil
}

// FromRow decodes a stored row. The row's CustomerID wins over the one in the JSON.
func FromRow(r Row) (Classified, error) {
	var doc featureDoc
	if len(r.Features) > 0 {
		if err := json.Unmarshal(r.Features, &doc); err != nil {
			return Classified{}, fmt.Errorf("decode features for %s: %w", r.CustomerID, err)
		}
	}
	doc.Features.CustomerID = r.CustomerID
	return Classified{
		Features:   doc.Features,
		Scores:     doc.Scores,
		Label:      r.ClusterLabel,
		Confidence: r.Confidence,
	}, nil
}
