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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAuditor_Record(t *testing.T) {
	auditor := NewMemoryAuditor()
	ctx := context.Background()

	t.Run("assigns id and timestamp", func(t *testing.T) {
		err := auditor.Record(ctx, &Event{
			UserID:  "alice",
			Action:  ActionVerifyLogin,
			Success: true,
		})
		require.NoError(t, err)

		events := auditor.Events(nil)
		require.Len(t, events, 1)
		assert.NotEmpty(t, events[0].ID)
		assert.False(t, events[0].Timestamp.IsZero())
	})

	t.Run("preserves caller-supplied id and timestamp", func(t *testing.T) {
		ts := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
		err := auditor.Record(ctx, &Event{
			ID:        "event-1",
			Timestamp: ts,
			UserID:    "bob",
			Action:    ActionDisable,
		})
		require.NoError(t, err)

		events := auditor.Events(&Query{UserID: "bob"})
		require.Len(t, events, 1)
		assert.Equal(t, "event-1", events[0].ID)
		assert.Equal(t, ts, events[0].Timestamp)
	})

	t.Run("nil event rejected", func(t *testing.T) {
		assert.Error(t, auditor.Record(ctx, nil))
	})

	t.Run("recorded history is immutable", func(t *testing.T) {
		event := &Event{UserID: "carol", Action: ActionSetupInitiate, Detail: "original"}
		require.NoError(t, auditor.Record(ctx, event))
		event.Detail = "mutated"

		events := auditor.Events(&Query{UserID: "carol"})
		require.Len(t, events, 1)
		assert.Equal(t, "original", events[0].Detail)

		events[0].Detail = "mutated again"
		again := auditor.Events(&Query{UserID: "carol"})
		assert.Equal(t, "original", again[0].Detail)
	})
}

func TestMemoryAuditor_Events(t *testing.T) {
	auditor := NewMemoryAuditor()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, auditor.Record(ctx, &Event{
			UserID: "alice", Action: ActionVerifyLogin, Success: i == 2,
		}))
	}
	require.NoError(t, auditor.Record(ctx, &Event{
		UserID: "bob", Action: ActionSetupInitiate, Success: true,
	}))

	t.Run("filter by user", func(t *testing.T) {
		events := auditor.Events(&Query{UserID: "alice"})
		assert.Len(t, events, 3)
	})

	t.Run("filter by action", func(t *testing.T) {
		events := auditor.Events(&Query{Action: ActionSetupInitiate})
		require.Len(t, events, 1)
		assert.Equal(t, "bob", events[0].UserID)
	})

	t.Run("limit caps results in append order", func(t *testing.T) {
		events := auditor.Events(&Query{UserID: "alice", Limit: 2})
		require.Len(t, events, 2)
		assert.False(t, events[0].Success)
	})

	t.Run("nil query matches everything", func(t *testing.T) {
		assert.Len(t, auditor.Events(nil), 4)
	})
}

func TestMemoryAuditor_Concurrent(t *testing.T) {
	auditor := NewMemoryAuditor()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = auditor.Record(ctx, &Event{
					UserID: fmt.Sprintf("user-%d", i),
					Action: ActionVerifyLogin,
				})
				_ = auditor.Events(&Query{UserID: fmt.Sprintf("user-%d", i)})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 200, auditor.Count())
}
