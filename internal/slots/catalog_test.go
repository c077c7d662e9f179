package slots

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	want := []string{
		"08:00", "08:30", "09:00", "09:30", "10:00", "10:30",
		"13:00", "13:30", "14:00", "14:30", "15:00", "15:30", "16:00",
	}
	assert.Equal(t, want, c.List())
	assert.True(t, c.Contains("09:00"))
	assert.False(t, c.Contains("11:00"))
	assert.False(t, c.Contains("12:00"))
	assert.False(t, c.Contains("9:00"))
}

func TestListReturnsCopy(t *testing.T) {
	c := Default()
	l := c.List()
	l[0] = "changed"
	assert.Equal(t, "08:00", c.List()[0])
}

func TestParse(t *testing.T) {
	c, err := Parse("09:00-10:00, 14:00-15:00", 20*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:20", "09:40", "14:00", "14:20", "14:40"}, c.List())
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"09:00",
		"09:00-08:00",
		"25:00-26:00",
		"13:00-14:00,09:00-10:00",
		"09:00-09:10",
	}
	for _, raw := range cases {
		t.Run(raw, func(t *testing.T) {
			_, err := Parse(raw, 30*time.Minute)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSessions))
		})
	}
}

func TestNewRejectsZeroGranularity(t *testing.T) {
	_, err := New(DefaultSessions, 0)
	assert.ErrorIs(t, err, ErrInvalidSessions)
}

func TestStartOf(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)

	day := time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC)
	start, ok := Default().StartOf(day, "09:30", loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 8, 25, 9, 30, 0, 0, loc), start)

	_, ok = Default().StartOf(day, "12:00", loc)
	assert.False(t, ok)
}
