package filterlist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseExpires(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		line   string
		want   time.Duration
		wantOK bool
	}{{
		name:   "days",
		line:   "! Expires: 4 days (update frequency)",
		want:   4 * 24 * time.Hour,
		wantOK: true,
	}, {
		name:   "hours",
		line:   "! Expires: 12 hours",
		want:   12 * time.Hour,
		wantOK: true,
	}, {
		name:   "short_hours",
		line:   "! expires: 6h",
		want:   6 * time.Hour,
		wantOK: true,
	}, {
		name:   "after",
		line:   "! Redirect: this list expires after 2 days",
		want:   2 * 24 * time.Hour,
		wantOK: true,
	}, {
		name:   "large_days",
		line:   "! Expires: 200000 days",
		want:   maxUpdatePeriod,
		wantOK: true,
	}, {
		name:   "large_hours",
		line:   "! Expires: 3000000 hours",
		want:   maxUpdatePeriod,
		wantOK: true,
	}, {
		name:   "largest_days",
		line:   "! Expires: 106751 days",
		want:   106751 * 24 * time.Hour,
		wantOK: true,
	}, {
		name:   "zero",
		line:   "! Expires: 0",
		want:   0,
		wantOK: false,
	}, {
		name:   "none",
		line:   "! Title: EasyList",
		want:   0,
		wantOK: false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, ok := parseExpires(tc.line)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseLastModified(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		want   time.Time
		name   string
		line   string
		wantOK bool
	}{{
		want:   time.Date(2024, time.May, 1, 10, 30, 0, 0, time.UTC),
		name:   "full",
		line:   "! Last modified: 01 May 2024 10:30 UTC",
		wantOK: true,
	}, {
		want:   time.Date(2024, time.December, 7, 0, 0, 0, 0, time.UTC),
		name:   "date_only",
		line:   "! Updated: 7 Dec 2024",
		wantOK: true,
	}, {
		want:   time.Date(2017, time.March, 15, 0, 0, 0, 0, time.UTC),
		name:   "two_digit_year",
		line:   "! last modified: 15 mar 17",
		wantOK: true,
	}, {
		want:   time.Time{},
		name:   "bad_day",
		line:   "! Last modified: 99 May 2024",
		wantOK: false,
	}, {
		want:   time.Time{},
		name:   "none",
		line:   "! Title: EasyList",
		wantOK: false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, ok := parseLastModified(tc.line)
			assert.Equal(t, tc.wantOK, ok)
			assert.True(t, tc.want.Equal(got))
		})
	}
}
