package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecord_IsValid(t *testing.T) {
	granted := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := granted.Add(24 * time.Hour)

	tests := []struct {
		name   string
		record Record
		at     time.Time
		want   bool
		status Status
	}{
		{"granted without expiry", Record{Status: StatusGranted}, granted.AddDate(5, 0, 0), true, StatusGranted},
		{"before expiry", Record{Status: StatusGranted, ExpiresAt: &expires}, granted.Add(time.Hour), true, StatusGranted},
		{"at expiry", Record{Status: StatusGranted, ExpiresAt: &expires}, expires, false, StatusExpired},
		{"after expiry", Record{Status: StatusGranted, ExpiresAt: &expires}, granted.Add(25 * time.Hour), false, StatusExpired},
		{"revoked before expiry", Record{Status: StatusRevoked, ExpiresAt: &expires}, granted.Add(time.Hour), false, StatusRevoked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.IsValid(tt.at))
			assert.Equal(t, tt.status, tt.record.EffectiveStatus(tt.at))
		})
	}
}

func TestRecord_RevokeKeepsFirstStamp(t *testing.T) {
	first := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := Record{Status: StatusGranted}

	r.Revoke(first, "moved away")
	r.Revoke(first.Add(time.Hour), "again")

	assert.Equal(t, StatusRevoked, r.Status)
	assert.Equal(t, first, *r.RevokedAt)
	assert.Equal(t, "moved away", r.RevocationReason)
}
