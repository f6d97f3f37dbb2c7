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

// Package audit provides an adapter interface for the MFA audit trail,
// allowing calling applications to implement custom storage strategies.
//
// Entries are append-only: nothing in this subsystem mutates or deletes
// a recorded event. Secrets, full codes, and device tokens are never
// placed in events by the workflows.
package audit

import (
	"context"
	"time"
)

// Action identifies the MFA operation an audit event describes.
type Action string

const (
	ActionSetupInitiate      Action = "mfa.setup.initiate"
	ActionSetupConfirm       Action = "mfa.setup.confirm"
	ActionVerifyLogin        Action = "mfa.verify.login"
	ActionVerifyBackupCode   Action = "mfa.verify.backup_code"
	ActionDisable            Action = "mfa.disable"
	ActionRegenerateCodes    Action = "mfa.backup_codes.regenerate"
	ActionTrustedDeviceIssue Action = "mfa.trusted_device.issue"
	ActionTrustedDeviceCheck Action = "mfa.trusted_device.check"
)

// Event is a single append-only audit record.
type Event struct {
	// ID is a unique identifier for this event.
	ID string

	// Timestamp when the event occurred.
	Timestamp time.Time

	// UserID is the acting account identifier.
	UserID string

	// Action categorizes the operation.
	Action Action

	// Success indicates whether the operation succeeded.
	Success bool

	// IP is the source address the operation was attributed to.
	IP string

	// UserAgent is the client user agent, when known.
	UserAgent string

	// Detail carries a short non-sensitive failure reason or note.
	Detail string
}

// Query selects events for retrieval.
type Query struct {
	// UserID filters by acting account; empty matches all.
	UserID string

	// Action filters by operation; empty matches all.
	Action Action

	// Limit caps the number of returned events; 0 means no cap.
	Limit int
}

// Auditor is the audit sink consumed by the MFA workflows.
// Implementations must be thread-safe.
type Auditor interface {
	// Record appends an event to the audit trail. A returned error
	// signals the entry may be lost; callers surface it through their
	// logs but never let it change the outcome of the audited
	// operation.
	Record(ctx context.Context, event *Event) error
}
