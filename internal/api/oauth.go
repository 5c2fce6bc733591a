package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/metahub/integrationhub/internal/errors"
	"github.com/metahub/integrationhub/internal/httpmw"
	"github.com/metahub/integrationhub/internal/logsink"
	"github.com/metahub/integrationhub/internal/oauthstate"
	"github.com/metahub/integrationhub/internal/tenant"
)

// TokenExchanger performs the authorization_code exchange against Meta's
// Graph API. Swappable in tests; the production implementation calls
// graph.facebook.com directly.
type TokenExchanger interface {
	Exchange(ctx context.Context, code, redirectURI string) (accessToken string, expiresInSec int, err error)
}

// GraphTokenExchanger is the production TokenExchanger.
type GraphTokenExchanger struct {
	HTTPClient  *http.Client
	BaseURL     string
	AppID       string
	AppSecret   string
}

func NewGraphTokenExchanger(httpClient *http.Client, baseURL, appID, appSecret string) *GraphTokenExchanger {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/v19.0"
	}
	return &GraphTokenExchanger{HTTPClient: httpClient, BaseURL: baseURL, AppID: appID, AppSecret: appSecret}
}

func (g *GraphTokenExchanger) Exchange(ctx context.Context, code, redirectURI string) (string, int, error) {
	endpoint := fmt.Sprintf("%s/oauth/access_token", g.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", 0, err
	}
	q := req.URL.Query()
	q.Set("client_id", g.AppID)
	q.Set("client_secret", g.AppSecret)
	q.Set("redirect_uri", redirectURI)
	q.Set("code", code)
	req.URL.RawQuery = q.Encode()

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("oauth token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, apperrors.NewUpstreamError("meta oauth token exchange returned non-200", nil)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("decode oauth token response: %w", err)
	}
	return out.AccessToken, out.ExpiresIn, nil
}

// CredentialStore persists the access token resulting from a completed
// OAuth flow against the workspace it belongs to.
type CredentialStore interface {
	SaveMetaToken(ctx context.Context, workspaceID, accessToken string, expiresAt time.Time) error
}

// OAuthHandlers drives the Meta OAuth authorization code flow: the signed
// state round trip described for §6, the code-for-token exchange, and a
// redirect back to the configured application UI.
type OAuthHandlers struct {
	Secret      []byte
	AppID       string
	AppURL      string
	RedirectURI string
	Exchanger   TokenExchanger
	Creds       CredentialStore
	Logs        logsink.Sink
}

func NewOAuthHandlers(secret []byte, appID, appURL, redirectURI string, exchanger TokenExchanger, creds CredentialStore, logs logsink.Sink) *OAuthHandlers {
	return &OAuthHandlers{
		Secret: secret, AppID: appID, AppURL: appURL, RedirectURI: redirectURI,
		Exchanger: exchanger, Creds: creds, Logs: logs,
	}
}

type oauthStartRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
}

// Start handles POST /oauth/meta/start: signs a fresh state for the caller's
// workspace and returns the Meta authorization dialog URL.
func (h *OAuthHandlers) Start(c *gin.Context) {
	caller, ok := tenant.FromContext(c.Request.Context())
	if !ok {
		httpmw.Fail(c, apperrors.NewUnauthenticatedError("no authenticated caller in context"))
		return
	}
	var req oauthStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.Fail(c, apperrors.NewValidationError("workspace_id", "workspace_id is required"))
		return
	}

	state, err := oauthstate.Sign(h.Secret, oauthstate.Payload{WorkspaceID: req.WorkspaceID, UserID: caller.UserID})
	if err != nil {
		httpmw.Fail(c, err)
		return
	}

	dialogURL := fmt.Sprintf(
		"https://www.facebook.com/v19.0/dialog/oauth?client_id=%s&redirect_uri=%s&state=%s&scope=%s",
		url.QueryEscape(h.AppID),
		url.QueryEscape(h.RedirectURI),
		url.QueryEscape(state),
		url.QueryEscape("whatsapp_business_messaging,leads_retrieval,pages_manage_ads"),
	)
	c.JSON(http.StatusOK, gin.H{"url": dialogURL, "state": state})
}

// Callback handles GET /oauth/meta/callback: verifies the state, exchanges
// the authorization code for an access token, persists it, and redirects to
// the application UI regardless of outcome (errors are surfaced via a query
// parameter, never as a raw API error to Meta's redirect).
func (h *OAuthHandlers) Callback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")

	payload, err := oauthstate.Verify(h.Secret, state)
	if err != nil {
		h.log(c, "", "oauth.callback.rejected", err.Error())
		c.Redirect(http.StatusFound, h.AppURL+"?oauth_error=invalid_state")
		return
	}

	token, expiresIn, err := h.Exchanger.Exchange(c.Request.Context(), code, h.RedirectURI)
	if err != nil {
		h.log(c, payload.WorkspaceID, "oauth.callback.exchange_failed", err.Error())
		c.Redirect(http.StatusFound, h.AppURL+"?oauth_error=exchange_failed")
		return
	}

	expiresAt := time.Now().UTC().Add(time.Duration(expiresIn) * time.Second)
	if err := h.Creds.SaveMetaToken(c.Request.Context(), payload.WorkspaceID, token, expiresAt); err != nil {
		h.log(c, payload.WorkspaceID, "oauth.callback.save_failed", err.Error())
		c.Redirect(http.StatusFound, h.AppURL+"?oauth_error=save_failed")
		return
	}

	h.log(c, payload.WorkspaceID, "oauth.callback.completed", "meta oauth flow completed")
	c.Redirect(http.StatusFound, h.AppURL+"?oauth_connected=1")
}

func (h *OAuthHandlers) log(c *gin.Context, tenantID, action, message string) {
	if h.Logs == nil {
		return
	}
	_ = h.Logs.Write(c.Request.Context(), logsink.Entry{
		TenantID: tenantID,
		Level:    logsink.LevelInfo,
		Category: logsink.CategoryOAuth,
		Action:   action,
		Message:  message,
	})
}
