package assignment_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchflow/core/pkg/assignment"
)

type fakeRecord struct {
	summary              assignment.Summary
	verified             bool
	verificationRequired bool
	hasPointer           bool
	downloads            int
	lastAt               time.Time
}

func (f *fakeRecord) LoadAssignment(ctx context.Context, recipientID, bundleID string) (assignment.Summary, bool, bool, error) {
	return f.summary, f.verified, f.verificationRequired, nil
}

func (f *fakeRecord) HasStoragePointer(ctx context.Context, bundleID string) (bool, error) {
	return f.hasPointer, nil
}

func (f *fakeRecord) RecordDownload(ctx context.Context, recipientID, bundleID string, at time.Time) error {
	f.downloads++
	f.lastAt = at
	f.summary.DownloadsUsed++
	f.summary.LastDownloadAt = &at
	return nil
}

func intp(v int) *int { return &v }

func TestDerive_MaxDownloadsRemaining(t *testing.T) {
	s := assignment.Derive(assignment.Summary{MaxDownloads: intp(3), DownloadsUsed: 1}, time.Now())
	require.NotNil(t, s.DownloadsRemaining)
	assert.Equal(t, 2, *s.DownloadsRemaining)
}

func TestDerive_RemainingFloorsAtZero(t *testing.T) {
	s := assignment.Derive(assignment.Summary{MaxDownloads: intp(1), DownloadsUsed: 5}, time.Now())
	assert.Equal(t, 0, *s.DownloadsRemaining)
}

func TestDerive_CooldownRemaining(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := assignment.Derive(assignment.Summary{CooldownSeconds: intp(60), LastDownloadAt: &t0}, t0.Add(10*time.Second))
	require.NotNil(t, s.NextAvailableAt)
	assert.Equal(t, t0.Add(60*time.Second), *s.NextAvailableAt)
	assert.Equal(t, 50, s.CooldownRemainingSecs)
}

func TestCheckDownload_MaxDownloadsExceeded(t *testing.T) {
	rec := &fakeRecord{
		summary:    assignment.Summary{MaxDownloads: intp(1), DownloadsUsed: 1},
		hasPointer: true,
	}
	e := assignment.NewEnforcer(rec, func() time.Time { return time.Now() })
	_, err := e.CheckDownload(context.Background(), "r1", "b1")
	require.Error(t, err)
	denial, ok := err.(*assignment.Denial)
	require.True(t, ok)
	assert.Equal(t, assignment.ReasonMaxDownloadsExceeded, denial.Reason)
	assert.Equal(t, 403, denial.Reason.Status())
}

func TestCheckDownload_CooldownActive(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	last := now.Add(-10 * time.Second)
	rec := &fakeRecord{
		summary:    assignment.Summary{CooldownSeconds: intp(60), LastDownloadAt: &last},
		hasPointer: true,
	}
	e := assignment.NewEnforcer(rec, func() time.Time { return now })
	_, err := e.CheckDownload(context.Background(), "r1", "b1")
	require.Error(t, err)
	denial := err.(*assignment.Denial)
	assert.Equal(t, assignment.ReasonCooldownActive, denial.Reason)
	assert.Equal(t, 429, denial.Reason.Status())
	assert.Equal(t, 50, denial.Summary.CooldownRemainingSecs)
}

func TestCheckDownload_VerificationRequired(t *testing.T) {
	rec := &fakeRecord{verificationRequired: true, verified: false, hasPointer: true}
	e := assignment.NewEnforcer(rec, time.Now)
	_, err := e.CheckDownload(context.Background(), "r1", "b1")
	require.Error(t, err)
	assert.Equal(t, assignment.ReasonVerificationRequired, err.(*assignment.Denial).Reason)
}

func TestCheckDownload_NoStoragePath(t *testing.T) {
	rec := &fakeRecord{hasPointer: false}
	e := assignment.NewEnforcer(rec, time.Now)
	_, err := e.CheckDownload(context.Background(), "r1", "b1")
	require.Error(t, err)
	denial := err.(*assignment.Denial)
	assert.Equal(t, assignment.ReasonNoStoragePath, denial.Reason)
	assert.Equal(t, 409, denial.Reason.Status())
}

func TestCheckDownload_AllowsThenRecords(t *testing.T) {
	rec := &fakeRecord{
		summary:    assignment.Summary{MaxDownloads: intp(2), DownloadsUsed: 0},
		hasPointer: true,
	}
	e := assignment.NewEnforcer(rec, time.Now)
	summary, err := e.CheckDownload(context.Background(), "r1", "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, *summary.DownloadsRemaining)

	require.NoError(t, e.RecordDownload(context.Background(), "r1", "b1"))
	assert.Equal(t, 1, rec.downloads)
	assert.Equal(t, 1, rec.summary.DownloadsUsed)
}

func TestCheckDownload_ExhaustsAfterMAllowed(t *testing.T) {
	rec := &fakeRecord{
		summary:    assignment.Summary{MaxDownloads: intp(2), DownloadsUsed: 0},
		hasPointer: true,
	}
	e := assignment.NewEnforcer(rec, time.Now)

	for i := 0; i < 2; i++ {
		_, err := e.CheckDownload(context.Background(), "r1", "b1")
		require.NoError(t, err)
		require.NoError(t, e.RecordDownload(context.Background(), "r1", "b1"))
	}

	_, err := e.CheckDownload(context.Background(), "r1", "b1")
	require.Error(t, err)
	assert.Equal(t, assignment.ReasonMaxDownloadsExceeded, err.(*assignment.Denial).Reason)
}
