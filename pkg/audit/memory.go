// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-mfa.
//
// go-mfa is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryAuditor implements Auditor with in-memory storage. It is
// thread-safe and suitable for development, testing, or embedding where
// the host application drains events into its own persistent trail.
//
// Note: events are lost on process restart. Production deployments
// should implement Auditor against durable storage.
type MemoryAuditor struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryAuditor creates a new in-memory audit recorder.
func NewMemoryAuditor() *MemoryAuditor {
	return &MemoryAuditor{
		events: make([]*Event, 0, 1024),
	}
}

// Record appends an event to the in-memory trail.
func (m *MemoryAuditor) Record(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("audit: event cannot be nil")
	}

	// Store a copy so callers cannot mutate recorded history.
	stored := *event
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.events = append(m.events, &stored)
	m.mu.Unlock()

	return nil
}

// Events returns events matching the query in append order.
func (m *MemoryAuditor) Events(query *Query) []*Event {
	if query == nil {
		query = &Query{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*Event
	for _, event := range m.events {
		if query.UserID != "" && event.UserID != query.UserID {
			continue
		}
		if query.Action != "" && event.Action != query.Action {
			continue
		}
		copied := *event
		results = append(results, &copied)
		if query.Limit > 0 && len(results) == query.Limit {
			break
		}
	}
	return results
}

// Count returns the total number of recorded events.
func (m *MemoryAuditor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}
