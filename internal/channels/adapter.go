// Package channels implements the notification channel adapters. Every
// adapter presents the same send contract; message formatting per medium is
// the adapter's responsibility and the dispatcher stays channel-agnostic.
package channels

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/mohamedkhairy/alert-dispatch/internal/models"
)

// Adapter is the uniform send contract for one notification medium
type Adapter interface {
	// Name returns the channel type this adapter serves
	Name() string

	// Send delivers an alert through this channel. On success it returns
	// the external reference ID assigned by the downstream service.
	Send(ctx context.Context, alert *models.Alert, cfg models.ChannelConfig) (string, error)
}

// ErrMissingCredentials marks a channel with incomplete configuration
var ErrMissingCredentials = errors.New("channel credentials are not configured")

// permanentError wraps errors that will not succeed on retry (bad endpoint,
// rejected payload, missing credentials)
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks an error as not retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether a delivery error is permanent. Timeouts and
// 5xx responses are transient; everything marked via Permanent is not.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Registry maps channel types to adapters. Adding a channel means
// registering an adapter here, not editing the dispatcher.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter, replacing any previous adapter for the same type
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Name()] = adapter
}

// Get returns the adapter for a channel type
func (r *Registry) Get(channelType string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[channelType]
	return adapter, ok
}

// Types returns the registered channel types
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		types = append(types, name)
	}
	return types
}

// newHTTPClient builds the shared client used by the HTTP-based adapters
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
