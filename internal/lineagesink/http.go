package lineagesink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/animus-labs/animus-datafabric/internal/openlineage"
)

// LineagePath is the OpenLineage HTTP transport endpoint.
const LineagePath = "/api/v1/lineage"

// HTTP posts RunEvents to an OpenLineage compatible endpoint.
type HTTP struct {
	client   *http.Client
	endpoint string
}

func NewHTTP(client *http.Client, baseURL string) (*HTTP, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("lineage endpoint is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTP{client: client, endpoint: baseURL + LineagePath}, nil
}

func (h *HTTP) Record(ctx context.Context, ev openlineage.RunEvent) error {
	if h == nil || h.client == nil {
		return fmt.Errorf("lineage http sink not initialized")
	}
	if err := openlineage.Validate(ctx, ev); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post run event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("post run event: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

type ClientCredentials struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// NewClientCredentialsClient discovers the issuer's token endpoint and returns
// an HTTP client that attaches client-credentials access tokens.
func NewClientCredentialsClient(ctx context.Context, cfg ClientCredentials) (*http.Client, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("issuer url, client id and client secret are required")
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     provider.Endpoint().TokenURL,
		Scopes:       cfg.Scopes,
	}
	client := cc.Client(ctx)
	client.Timeout = 15 * time.Second
	return client, nil
}
