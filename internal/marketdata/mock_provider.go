package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/mohamedkhairy/alert-dispatch/internal/models"
)

// MockProvider serves canned snapshots for testing and local development
type MockProvider struct {
	mu        sync.Mutex
	Snapshots map[string]*models.Snapshot
	Err       error
	Calls     int
}

// NewMockProvider creates a mock provider with no snapshots loaded
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Snapshots: make(map[string]*models.Snapshot),
	}
}

// Name returns the provider type
func (p *MockProvider) Name() string {
	return "mock"
}

// SetSnapshot seeds a snapshot for a symbol
func (p *MockProvider) SetSnapshot(snapshot *models.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Snapshots[snapshot.Symbol] = snapshot
}

// GetSnapshot returns the seeded snapshot for the symbol, or a flat default
// when none was seeded
func (p *MockProvider) GetSnapshot(ctx context.Context, symbol string) (*models.Snapshot, error) {
	if symbol == "" {
		return nil, ErrSymbolRequired
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls++

	if p.Err != nil {
		return nil, p.Err
	}
	if snapshot, ok := p.Snapshots[symbol]; ok {
		return snapshot, nil
	}
	return &models.Snapshot{
		Symbol:        symbol,
		Timestamp:     time.Now(),
		Open:          100,
		High:          101,
		Low:           99,
		Close:         100,
		Volume:        1_000_000,
		PreviousClose: 100,
		AvgVolume:     1_000_000,
		PreviousValue: 100,
	}, nil
}
