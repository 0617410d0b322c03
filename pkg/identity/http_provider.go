package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// Config holds identity-provider client configuration.
type Config struct {
	// BaseURL is the root of the provider's admin API.
	BaseURL string
	// TokenURL, ClientID and ClientSecret configure OAuth2 client-credential
	// authentication against the admin API. An empty TokenURL disables
	// authentication (local development and tests).
	TokenURL     string
	ClientID     string
	ClientSecret string
	// Timeout bounds each provider call.
	Timeout time.Duration
}

// HTTPProvider is a Provider backed by the identity provider's REST admin
// API.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates an HTTPProvider. When cfg.TokenURL is set the
// underlying client obtains and refreshes OAuth2 client-credential tokens
// automatically.
func NewHTTPProvider(cfg Config) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("identity provider base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var client *http.Client
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		client = cc.Client(context.Background())
	} else {
		client = &http.Client{}
	}
	client.Timeout = timeout

	return &HTTPProvider{baseURL: cfg.BaseURL, client: client}, nil
}

// FindByLogin looks up an identity by login.
func (p *HTTPProvider) FindByLogin(ctx context.Context, login string) (*Identity, error) {
	endpoint := fmt.Sprintf("%s/admin/identities?login=%s", p.baseURL, url.QueryEscape(login))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build lookup request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var ident Identity
		if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
			return nil, fmt.Errorf("failed to decode identity: %w", err)
		}
		return &ident, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		return nil, &TransientError{Err: httpError(resp)}
	default:
		return nil, httpError(resp)
	}
}

// Create registers a new identity with the provider.
func (p *HTTPProvider) Create(ctx context.Context, login string, metadata map[string]string) (*Identity, error) {
	payload := struct {
		Login    string            `json:"login"`
		Metadata map[string]string `json:"metadata,omitempty"`
	}{Login: login, Metadata: metadata}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode create request: %w", err)
	}

	endpoint := p.baseURL + "/admin/identities"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		var ident Identity
		if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
			return nil, fmt.Errorf("failed to decode created identity: %w", err)
		}
		return &ident, nil
	case resp.StatusCode == http.StatusConflict:
		return nil, ErrLoginTaken
	case resp.StatusCode >= 500:
		return nil, &TransientError{Err: httpError(resp)}
	default:
		return nil, httpError(resp)
	}
}

// Delete removes an identity. A 404 counts as success since the identity is
// already gone.
func (p *HTTPProvider) Delete(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("%s/admin/identities/%s", p.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode >= 500:
		return &TransientError{Err: httpError(resp)}
	default:
		return httpError(resp)
	}
}

// Ping verifies the provider is reachable, for readiness checks.
func (p *HTTPProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return httpError(resp)
	}
	return nil
}

func httpError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(body) == 0 {
		return fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("identity provider returned status %d: %s", resp.StatusCode, body)
}
