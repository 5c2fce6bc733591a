package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// GraphClientConfig configures a GraphClient.
type GraphClientConfig struct {
	// BaseURL for the Meta Graph API (optional, for testing).
	BaseURL string
	Timeout time.Duration
}

// TokenSource resolves the access token a tenant's form/page integration
// should use when calling the Graph API.
type TokenSource interface {
	AccessTokenFor(ctx context.Context, tenantID, formID string) (string, error)
}

// GraphClient fetches full lead objects from the Meta Graph API to enrich
// a leadgen webhook's otherwise minimal payload.
type GraphClient struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
}

func NewGraphClient(cfg GraphClientConfig, tokens TokenSource) *GraphClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/v19.0"
	}
	return &GraphClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		tokens:     tokens,
	}
}

// FetchLead implements LeadEnricher.
func (g *GraphClient) FetchLead(ctx context.Context, tenantID, formID, leadID string) (map[string]interface{}, error) {
	token, err := g.tokens.AccessTokenFor(ctx, tenantID, formID)
	if err != nil {
		return nil, fmt.Errorf("resolve access token: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s", g.baseURL, url.PathEscape(leadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("access_token", token)
	req.URL.RawQuery = q.Encode()

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph api returned status %d", resp.StatusCode)
	}

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode graph api response: %w", err)
	}
	return out, nil
}
