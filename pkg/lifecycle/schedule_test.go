package lifecycle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
)

func TestSchedule_Next(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, time.March, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		schedule lifecycle.Schedule
		want     time.Time
		str      string
	}{
		{
			name:     "every",
			schedule: lifecycle.Every(15 * time.Minute),
			want:     from.Add(15 * time.Minute),
			str:      "every 15m0s",
		},
		{
			name:     "hourly later this hour",
			schedule: lifecycle.HourlyAt(45),
			want:     time.Date(2026, time.March, 1, 10, 45, 0, 0, time.UTC),
			str:      "hourly at :45",
		},
		{
			name:     "hourly next hour",
			schedule: lifecycle.HourlyAt(30),
			want:     time.Date(2026, time.March, 1, 11, 30, 0, 0, time.UTC),
			str:      "hourly at :30",
		},
		{
			name:     "daily later today",
			schedule: lifecycle.DailyAt(23, 0),
			want:     time.Date(2026, time.March, 1, 23, 0, 0, 0, time.UTC),
			str:      "daily at 23:00",
		},
		{
			name:     "daily tomorrow",
			schedule: lifecycle.DailyAt(2, 5),
			want:     time.Date(2026, time.March, 2, 2, 5, 0, 0, time.UTC),
			str:      "daily at 02:05",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.schedule.Next(from))
			assert.Equal(t, tt.str, tt.schedule.String())

			parsed, err := lifecycle.ParseSchedule(tt.str)
			require.NoError(t, err)
			assert.Equal(t, tt.want, parsed.Next(from))
		})
	}
}

func TestSchedule_InvalidArguments(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { lifecycle.Every(0) })
	assert.Panics(t, func() { lifecycle.HourlyAt(60) })
	assert.Panics(t, func() { lifecycle.DailyAt(24, 0) })
	assert.Panics(t, func() { lifecycle.DailyAt(0, -1) })
}

func TestParseSchedule_Invalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "weekly", "every", "every -5m", "every soon", "hourly at 5", "hourly at :75", "daily at 25:00", "daily at noon"} {
		_, err := lifecycle.ParseSchedule(raw)
		assert.ErrorIs(t, err, lifecycle.ErrInvalidSchedule, raw)
	}
}

func TestParseSchedule_CaseAndSpace(t *testing.T) {
	t.Parallel()

	s, err := lifecycle.ParseSchedule("  Daily at 04:15 ")
	require.NoError(t, err)
	assert.Equal(t, "daily at 04:15", s.String())
}
