// Package assignment implements the recipient×bundle assignment summary
// and the download-enforcement pre-check chain: verification requirement,
// max-downloads exhaustion, and cooldown.
package assignment

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Summary is a recipient×bundle assignment summary: stored fields plus
// the derived fields computed at read time.
type Summary struct {
	MaxDownloads          *int
	DownloadsUsed         int
	DownloadsRemaining    *int
	CooldownSeconds       *int
	LastDownloadAt        *time.Time
	NextAvailableAt       *time.Time
	CooldownRemainingSecs int
}

// Derive fills in the fields computed from the stored ones, given now as
// the evaluation instant.
func Derive(s Summary, now time.Time) Summary {
	out := s
	if s.MaxDownloads != nil {
		remaining := *s.MaxDownloads - s.DownloadsUsed
		if remaining < 0 {
			remaining = 0
		}
		out.DownloadsRemaining = &remaining
	} else {
		out.DownloadsRemaining = nil
	}

	if s.LastDownloadAt != nil && s.CooldownSeconds != nil {
		next := s.LastDownloadAt.Add(time.Duration(*s.CooldownSeconds) * time.Second)
		out.NextAvailableAt = &next
		remaining := math.Ceil(next.Sub(now).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		out.CooldownRemainingSecs = int(remaining)
	} else {
		out.NextAvailableAt = nil
		out.CooldownRemainingSecs = 0
	}
	return out
}

// DenyReason is one of the pre-check failure codes, each carrying a fixed
// HTTP status.
type DenyReason string

const (
	ReasonVerificationRequired DenyReason = "VERIFICATION_REQUIRED"
	ReasonMaxDownloadsExceeded DenyReason = "MAX_DOWNLOADS_EXCEEDED"
	ReasonCooldownActive       DenyReason = "COOLDOWN_ACTIVE"
	ReasonNoStoragePath        DenyReason = "NO_STORAGE_PATH"
)

// Status maps a DenyReason to its HTTP status.
func (r DenyReason) Status() int {
	switch r {
	case ReasonVerificationRequired, ReasonMaxDownloadsExceeded:
		return 403
	case ReasonCooldownActive:
		return 429
	case ReasonNoStoragePath:
		return 409
	default:
		return 500
	}
}

// Denial is returned by CheckDownload when a pre-check fails.
type Denial struct {
	Reason  DenyReason
	Summary Summary
}

func (d *Denial) Error() string { return string(d.Reason) }

// Record is the persistence boundary: loading the current assignment state
// and recording a successful download's side effects (the DownloadEvent row
// plus the lastDownloadAt bump).
type Record interface {
	// LoadAssignment returns the stored (undenied) summary, the recipient's
	// verification status, and whether the bundle requires verification.
	LoadAssignment(ctx context.Context, recipientID, bundleID string) (summary Summary, verified bool, verificationRequired bool, err error)
	// HasStoragePointer reports whether the bundle has a built artifact.
	HasStoragePointer(ctx context.Context, bundleID string) (bool, error)
	// RecordDownload inserts a DownloadEvent and bumps downloadsUsed/
	// lastDownloadAt atomically.
	RecordDownload(ctx context.Context, recipientID, bundleID string, at time.Time) error
}

// Enforcer runs the ordered pre-check chain ahead of a portal download.
type Enforcer struct {
	store Record
	clock func() time.Time
}

// NewEnforcer constructs an Enforcer. clock defaults to time.Now.
func NewEnforcer(store Record, clock func() time.Time) *Enforcer {
	if clock == nil {
		clock = time.Now
	}
	return &Enforcer{store: store, clock: clock}
}

// CheckDownload runs the pre-checks in their fixed order:
// verification-required, max-downloads, cooldown, missing pointer. It
// returns nil only when the download may proceed.
func (e *Enforcer) CheckDownload(ctx context.Context, recipientID, bundleID string) (*Summary, error) {
	raw, verified, verificationRequired, err := e.store.LoadAssignment(ctx, recipientID, bundleID)
	if err != nil {
		return nil, fmt.Errorf("assignment: load: %w", err)
	}
	now := e.clock()
	summary := Derive(raw, now)

	if verificationRequired && !verified {
		return nil, &Denial{Reason: ReasonVerificationRequired, Summary: summary}
	}
	if summary.MaxDownloads != nil && summary.DownloadsUsed >= *summary.MaxDownloads {
		return nil, &Denial{Reason: ReasonMaxDownloadsExceeded, Summary: summary}
	}
	if summary.NextAvailableAt != nil && now.Before(*summary.NextAvailableAt) {
		return nil, &Denial{Reason: ReasonCooldownActive, Summary: summary}
	}
	hasPointer, err := e.store.HasStoragePointer(ctx, bundleID)
	if err != nil {
		return nil, fmt.Errorf("assignment: check storage pointer: %w", err)
	}
	if !hasPointer {
		return nil, &Denial{Reason: ReasonNoStoragePath, Summary: summary}
	}
	return &summary, nil
}

// RecordDownload is called after a successful stream to persist the
// download side effects.
func (e *Enforcer) RecordDownload(ctx context.Context, recipientID, bundleID string) error {
	return e.store.RecordDownload(ctx, recipientID, bundleID, e.clock())
}
