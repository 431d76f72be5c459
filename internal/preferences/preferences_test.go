package preferences

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func minutesPtr(m int) *int    { return &m }
func zonePtr(z string) *string { return &z }

func TestPreferences_InQuietHours_SameDayWindow(t *testing.T) {
	p := Preferences{
		QuietHoursStart:    minutesPtr(22 * 60),
		QuietHoursEnd:      minutesPtr(23 * 60),
		QuietHoursTimeZone: zonePtr("UTC"),
	}
	at := time.Date(2026, 1, 1, 22, 30, 0, 0, time.UTC)
	require.True(t, p.InQuietHours(at))
}

func TestPreferences_InQuietHours_WrapsPastMidnight(t *testing.T) {
	p := Preferences{
		QuietHoursStart:    minutesPtr(22 * 60),
		QuietHoursEnd:      minutesPtr(6 * 60),
		QuietHoursTimeZone: zonePtr("UTC"),
	}
	require.True(t, p.InQuietHours(time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)))
	require.True(t, p.InQuietHours(time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)))
	require.False(t, p.InQuietHours(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)))
}

func TestPreferences_InQuietHours_UnconfiguredNeverMatches(t *testing.T) {
	var p Preferences
	require.False(t, p.InQuietHours(time.Now()))
}

func TestValidateQuietHours_AcceptsValidWindow(t *testing.T) {
	start, end, err := ValidateQuietHours("22:00", "06:30", "America/New_York")
	require.NoError(t, err)
	require.Equal(t, 22*60, start)
	require.Equal(t, 6*60+30, end)
}

func TestValidateQuietHours_RejectsMalformedTime(t *testing.T) {
	_, _, err := ValidateQuietHours("25:00", "06:00", "UTC")
	require.ErrorIs(t, err, ErrInvalidQuietHours)
}

func TestValidateQuietHours_RejectsUnknownTimeZone(t *testing.T) {
	_, _, err := ValidateQuietHours("22:00", "06:00", "Nowhere/Here")
	require.ErrorIs(t, err, ErrInvalidQuietHours)
}
