package reversechat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/credential"
)

// defaultTotalQueryAllowance is the reverse provider's hard-coded total
// query quota per credential (spec §9, open question 3: hard-coded in the
// source with no indication it should be dynamic).
const defaultTotalQueryAllowance = 80

// GetUsageLimits implements adapter.UsageLimiter by asking the backend's
// own usage endpoint how many queries remain. The hard-coded allowance is
// used as the total when the backend doesn't report one, and the remaining
// count equals the total when the backend doesn't report it.
func (a *Adapter) GetUsageLimits(ctx context.Context, cred *credential.Credential) (*credential.UsageSnapshot, error) {
	secret := decodeSecret(cred.SecretMaterial)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/usage", nil)
	if err != nil {
		return nil, err
	}
	applyBrowserHeaders(httpReq, secret, a.BaseURL)

	resp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("reversechat: usage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("reversechat: usage: status %d", resp.StatusCode)
	}

	var body struct {
		Remaining *int `json:"remainingQueries"`
		Total     *int `json:"totalQueries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("reversechat: decode usage: %w", err)
	}

	total := defaultTotalQueryAllowance
	if body.Total != nil {
		total = *body.Total
	}
	remaining := total
	if body.Remaining != nil {
		remaining = *body.Remaining
	}

	snap := &credential.UsageSnapshot{
		RefreshedAt: time.Now(),
		Fields: map[string]any{
			"total_queries":     total,
			"remaining_queries": remaining,
		},
	}
	return snap, nil
}
