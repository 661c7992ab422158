package segment

// Lifecycle labels.
const (
	BestCustomers      Label = "best_customers"
	LoyalLifecycle     Label = "loyal_customers"
	PromisingCustomers Label = "promising_customers"
	RecentCustomers    Label = "recent_customers"
	DefectingCustomers Label = "defecting_customers"
	AtRiskCustomers    Label = "at_risk_customers"
	DormantCustomers   Label = "dormant_customers"
)

func recentWithin(days, minOrders int) func(Features, Scores) bool {
	return func(f Features, _ Scores) bool {
		return f.DaysSinceLastOrder <= days && f.OrderCount >= minOrders
	}
}

// Thresholds work on raw days and order counts, not on scores.
var lifecycleRules = []Rule{
	{Label: BestCustomers, Confidence: 0.90, Match: recentWithin(30, 4)},
	{Label: LoyalLifecycle, Confidence: 0.85, Match: recentWithin(60, 3)},
	{Label: PromisingCustomers, Confidence: 0.75, Match: recentWithin(30, 2)},
	{Label: RecentCustomers, Confidence: 0.70, Match: recentWithin(30, 1)},
	{Label: DefectingCustomers, Confidence: 0.70, Match: recentWithin(90, 2)},
	{Label: AtRiskCustomers, Confidence: 0.65, Match: recentWithin(180, 1)},
}

var lifecycleCatchAll = Rule{Label: DormantCustomers, Confidence: 0.60}

// LifecycleStrategy labels customers by how recently and how often they buy.
type LifecycleStrategy struct{}

func (LifecycleStrategy) Scheme() Scheme { return SchemeLifecycle }
func (LifecycleStrategy) CatchAll() Label { return DormantCustomers }
func (LifecycleStrategy) IncludeMembers() bool { return true }
func (LifecycleStrategy) Classify(f Features) Classified {
	return evaluate(lifecycleRules, lifecycleCatchAll, f)
}

func (LifecycleStrategy) Priority() []Label {
	return []Label{
		BestCustomers,
		LoyalLifecycle,
		PromisingCustomers,
		RecentCustomers,
		DefectingCustomers,
		AtRiskCustomers,
		DormantCustomers,
	}
}
