package taskstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/animus-labs/animus-datafabric/internal/domain"
)

const maxFetchBytes = 8 << 20

// Fetcher resolves signed references handed across the hub/spoke boundary.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client}
}

func (f *Fetcher) Fetch(ctx context.Context, signedURL string) (domain.DataAssetTask, error) {
	if signedURL == "" {
		return domain.DataAssetTask{}, errors.New("signed url is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return domain.DataAssetTask{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return domain.DataAssetTask{}, fmt.Errorf("fetch task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.DataAssetTask{}, fmt.Errorf("fetch task: status %d", resp.StatusCode)
	}
	return Decode(io.LimitReader(resp.Body, maxFetchBytes))
}
