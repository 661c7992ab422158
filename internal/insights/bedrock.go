// Package insights asks a Bedrock model for merchant-facing recommendations
// about a segment report and caches the answer in DynamoDB.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	bedrockruntime "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"shopmetrics/internal/segment"
)

type BedrockClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Action is one recommendation for one segment.
type Action struct {
	Segment        string `json:"segment"`
	Recommendation string `json:"recommendation"`
	Priority       string `json:"priority"` // high | medium | low
}

type Result struct {
	Headline   string   `json:"headline"`
	Actions    []Action `json:"actions"`
	Confidence float64  `json:"confidence"`
}

var ErrNoJSON = errors.New("model did not return JSON object")

// BuildPrompt renders the report's summaries only; member lists never leave the account.
func BuildPrompt(rep *segment.Report) string {
	var b strings.Builder
	for _, s := range rep.Segments {
		fmt.Fprintf(&b, "- %s: %d customers (%.1f%%), revenue %.2f, avg order value %.2f, avg orders %.2f\n",
			s.Label, s.CustomerCount, s.Percentage, s.TotalRevenue, s.AvgOrderValue, s.AvgOrdersPerCustomer)
	}
	segments := b.String()
	if segments == "" {
		segments = "(no customers yet)\n"
	}

	return fmt.Sprintf(`
You are a retention analyst for a Shopify merchant.

OUTPUT: valid JSON ONLY.

RULES:
- Recommend at most one action per segment listed below.
- Only mention segments that appear in the list.
- Prefer concrete campaigns (discount, win-back email, loyalty perk) over generic advice.
- priority is one of: high, medium, low.

SHOP: %s
SCHEME: %s
TOTAL_CUSTOMERS: %d

SEGMENTS:
%s
Return JSON:
{
  "headline": "...",
  "actions": [{"segment": "...", "recommendation": "...", "priority": "high"}],
  "confidence": 0.0
}
`, rep.Tenant, rep.Scheme, rep.TotalCustomers, segments)
}

// Invoke sends the prompt with the Anthropic messages payload Bedrock expects
// and parses the first JSON object in the reply.
func Invoke(ctx context.Context, c BedrockClient, modelID, prompt string) (*Result, error) {
	if strings.TrimSpace(modelID) == "" {
		return nil, fmt.Errorf("missing env BEDROCK_MODEL_ID")
	}

	payload := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        900,
		"temperature":       0.2,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": prompt},
				},
			},
		},
	}
	body, _ := json.Marshal(payload)

	out, err := c.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock InvokeModel: %w", err)
	}

	var raw struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(out.Body, &raw); err != nil {
		return nil, fmt.Errorf("bedrock response unmarshal: %w", err)
	}

	var text string
	for _, c := range raw.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}

	jsonStr := extractFirstJSONObject(strings.TrimSpace(text))
	if jsonStr == "" {
		return nil, ErrNoJSON
	}

	var res Result
	if err := json.Unmarshal([]byte(jsonStr), &res); err != nil {
		return nil, fmt.Errorf("insight JSON parse failed: %w; raw=%s", err, truncate(jsonStr, 800))
	}
	res.Headline = strings.TrimSpace(res.Headline)
	if res.Actions == nil {
		res.Actions = []Action{}
	}
	return &res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// extractFirstJSONObject finds the first balanced {...} block, skipping braces
// inside string literals.
func extractFirstJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
