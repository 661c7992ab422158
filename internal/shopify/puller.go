package shopify

import (
	"context"
	"fmt"
)

// Puller runs an incremental Admin API sync for a shop outside a user
// request, borrowing the token of any linked user.
type Puller struct {
	Integrations *Integrations
	Client       *Client
	Sink         Sink
	Limit        int
}

func (p *Puller) Pull(ctx context.Context, shop string) (SyncResult, error) {
	tok, integ, err := p.Integrations.AnyToken(ctx, shop)
	if err != nil {
		return SyncResult{}, err
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 250
	}
	res, err := p.Client.Sync(ctx, shop, tok, integ.LastSyncAt, limit, p.Sink)
	if err != nil {
		return res, fmt.Errorf("sync %s: %w", shop, err)
	}
	if res.LastSyncAt != "" && res.LastSyncAt != integ.LastSyncAt {
		if err := p.Integrations.MarkSynced(ctx, integ.Sub(), shop, res.LastSyncAt); err != nil {
			return res, err
		}
	}
	return res, nil
}
