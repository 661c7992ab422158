package segment

// RFM labels.
const (
	Champions          Label = "Champions"
	LoyalCustomers     Label = "Loyal Customers"
	BigSpenders        Label = "Big Spenders"
	PotentialLoyalists Label = "Potential Loyalists"
	AtRisk             Label = "At Risk"
	CannotLoseThem     Label = "Cannot Lose Them"
	NewCustomers       Label = "New Customers"
	Others             Label = "Others"
)

// Rule order is significant: Champions must be tried before Big Spenders, and
// Cannot Lose Them before the broader At Risk.
var rfmRules = []Rule{
	{Label: Champions, Confidence: 0.95, Match: func(_ Features, s Scores) bool {
		return s.Recency >= 4 && s.Frequency >= 4 && s.Monetary >= 4
	}},
	{Label: LoyalCustomers, Confidence: 0.85, Match: func(_ Features, s Scores) bool {
		return s.Recency >= 3 && s.Frequency >= 4
	}},
	{Label: BigSpenders, Confidence: 0.80, Match: func(_ Features, s Scores) bool {
		return s.Recency >= 4 && s.Frequency <= 2 && s.Monetary >= 3
	}},
	{Label: PotentialLoyalists, Confidence: 0.75, Match: func(_ Features, s Scores) bool {
		return s.Recency >= 4 && s.Frequency >= 2 && s.Frequency <= 3
	}},
	{Label: CannotLoseThem, Confidence: 0.85, Match: func(_ Features, s Scores) bool {
		return s.Recency <= 2 && s.Frequency >= 4 && s.Monetary >= 4
	}},
	{Label: AtRisk, Confidence: 0.80, Match: func(_ Features, s Scores) bool {
		return s.Recency <= 2 && s.Frequency >= 2
	}},
	{Label: NewCustomers, Confidence: 0.70, Match: func(_ Features, s Scores) bool {
		return s.Recency >= 4 && s.Frequency == 1
	}},
}

var rfmCatchAll = Rule{Label: Others, Confidence: 0.50}

// RFMStrategy labels customers from their recency/frequency/monetary scores.
type RFMStrategy struct{}

func (RFMStrategy) Scheme() Scheme { return SchemeRFM }
func (RFMStrategy) CatchAll() Label { return Others }
func (RFMStrategy) IncludeMembers() bool { return false }
func (RFMStrategy) Classify(f Features) Classified {
	return evaluate(rfmRules, rfmCatchAll, f)
}

func (RFMStrategy) Priority() []Label {
	return []Label{
		Champions,
		LoyalCustomers,
		BigSpenders,
		PotentialLoyalists,
		NewCustomers,
		AtRisk,
		CannotLoseThem,
		Others,
	}
}
