package logsink

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FakeSink is an in-memory Sink used by delivery/webhook/alert unit tests.
type FakeSink struct {
	mu      sync.Mutex
	entries []Entry
}

func NewFakeSink() *FakeSink {
	return &FakeSink{}
}

func (f *FakeSink) Write(ctx context.Context, e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *FakeSink) Query(ctx context.Context, tenantID string, filter Filter) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Entry
	for _, e := range f.entries {
		if e.TenantID != tenantID {
			continue
		}
		if filter.Level != nil && e.Level != *filter.Level {
			continue
		}
		if filter.Category != nil && e.Category != *filter.Category {
			continue
		}
		if filter.MessageLike != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(filter.MessageLike)) {
			continue
		}
		out = append(out, e)
	}
	limit := filter.Limit
	if limit <= 0 || limit > len(out) {
		limit = len(out)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// All returns every entry recorded, for test assertions.
func (f *FakeSink) All() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Entry, len(f.entries))
	copy(out, f.entries)
	return out
}
