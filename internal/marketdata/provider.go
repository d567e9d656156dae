package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mohamedkhairy/alert-dispatch/internal/config"
	"github.com/mohamedkhairy/alert-dispatch/internal/models"
)

var (
	// ErrSymbolRequired is returned when a snapshot is requested without a symbol
	ErrSymbolRequired = errors.New("symbol is required")
	// ErrUnknownProvider is returned for an unrecognized provider type
	ErrUnknownProvider = errors.New("unknown market data provider")
)

// Provider supplies point-in-time market snapshots. Indicator computation
// happens upstream; snapshots arrive with indicator values precomputed.
type Provider interface {
	// GetSnapshot fetches a fresh snapshot for the given symbol
	GetSnapshot(ctx context.Context, symbol string) (*models.Snapshot, error)

	// Name returns the provider type (e.g. "http", "mock")
	Name() string
}

// NewProvider creates a provider instance from configuration
func NewProvider(cfg config.MarketDataConfig) (Provider, error) {
	switch cfg.Provider {
	case "http":
		return NewHTTPProvider(cfg), nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// HTTPProvider fetches snapshots from a JSON-over-HTTP snapshot service
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider creates an HTTP snapshot provider
func NewHTTPProvider(cfg config.MarketDataConfig) *HTTPProvider {
	return &HTTPProvider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Name returns the provider type
func (p *HTTPProvider) Name() string {
	return "http"
}

// GetSnapshot fetches a fresh snapshot for the given symbol
func (p *HTTPProvider) GetSnapshot(ctx context.Context, symbol string) (*models.Snapshot, error) {
	if symbol == "" {
		return nil, ErrSymbolRequired
	}

	endpoint := fmt.Sprintf("%s/v1/snapshot/%s", p.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("snapshot request for %s returned %d: %s", symbol, resp.StatusCode, string(body))
	}

	var snapshot models.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", symbol, err)
	}
	snapshot.Symbol = symbol
	return &snapshot, nil
}
