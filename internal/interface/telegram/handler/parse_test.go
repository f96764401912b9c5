package handler

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-buddy/internal/domain/session"
)

func TestParseCountdown(t *testing.T) {
	almaty := time.FixedZone("Almaty", 5*60*60)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, almaty)

	tests := []struct {
		name    string
		payload string
		want    CountdownArgs
		wantErr bool
	}{
		{
			name:    "minutes",
			payload: "25",
			want:    CountdownArgs{Kind: "countdown", Target: session.ForDuration(25 * time.Minute)},
		},
		{
			name:    "duration with label",
			payload: "1h30m Algebra  Exam",
			want:    CountdownArgs{Kind: "countdown:algebra exam", Target: session.ForDuration(90 * time.Minute)},
		},
		{
			name:    "date and time",
			payload: "2025-06-01 09:30 finals",
			want: CountdownArgs{
				Kind:   "countdown:finals",
				Target: session.ForDeadline(time.Date(2025, 6, 1, 9, 30, 0, 0, almaty)),
			},
		},
		{
			name:    "date only means midnight",
			payload: "2025-03-11",
			want: CountdownArgs{
				Kind:   "countdown",
				Target: session.ForDeadline(time.Date(2025, 3, 11, 0, 0, 0, 0, almaty)),
			},
		},
		{name: "empty", payload: "  ", wantErr: true},
		{name: "zero minutes", payload: "0", wantErr: true},
		{name: "negative", payload: "-5", wantErr: true},
		{name: "garbage", payload: "soon", wantErr: true},
		{name: "past date", payload: "2025-03-10 08:59", wantErr: true},
		{name: "too long", payload: "200000", wantErr: true},
		{name: "too far", payload: "2026-01-01", wantErr: true},
		// 307445735 minutes wrap to about 26 seconds when multiplied naively.
		{name: "minutes beyond duration range", payload: "307445735", wantErr: true},
		{name: "minutes beyond int64", payload: "99999999999999999999", wantErr: true},
		{name: "huge negative", payload: "-307445735", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCountdown(tt.payload, now, almaty, 100*24*time.Hour)
			if tt.wantErr {
				var ue *UsageError
				require.ErrorAs(t, err, &ue)
				assert.Contains(t, ue.Error(), CountdownUsage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Kind, got.Kind)
			assert.Equal(t, tt.want.Target.Duration, got.Target.Duration)
			assert.True(t, tt.want.Target.Deadline.Equal(got.Target.Deadline))
		})
	}
}

func TestParsePomodoro(t *testing.T) {
	work, brk, err := ParsePomodoro("", 25*time.Minute, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 25*time.Minute, work)
	assert.Equal(t, 5*time.Minute, brk)

	work, brk, err = ParsePomodoro("50", 25*time.Minute, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Minute, work)
	assert.Equal(t, 5*time.Minute, brk)

	work, brk, err = ParsePomodoro("50 10", 25*time.Minute, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Minute, work)
	assert.Equal(t, 10*time.Minute, brk)

	for _, payload := range []string{"0", "x", "1 2 3", "300", "307445735", "25 307445735"} {
		_, _, err := ParsePomodoro(payload, 25*time.Minute, 5*time.Minute)
		assert.Error(t, err, payload)
	}
}

func TestParseTop(t *testing.T) {
	n, err := ParseTop("")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = ParseTop(" 5 ")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = ParseTop("-1")
	assert.Error(t, err)
}

func TestParseMinutesSaturates(t *testing.T) {
	d, ok := parseMinutes("307445735")
	require.True(t, ok)
	assert.Equal(t, time.Duration(math.MaxInt64), d)

	d, ok = parseMinutes("-99999999999999999999")
	require.True(t, ok)
	assert.Equal(t, time.Duration(math.MinInt64), d)

	d, ok = parseMinutes("153722867")
	require.True(t, ok)
	assert.Equal(t, 153722867*time.Minute, d)
}
