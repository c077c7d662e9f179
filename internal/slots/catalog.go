// Package slots defines the clinic's fixed daily slot labels.
package slots

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const labelLayout = "15:04"

var ErrInvalidSessions = errors.New("invalid slot sessions")

// Session is a bookable window of the day, as minutes after midnight. End is exclusive.
type Session struct {
	Start int
	End   int
}

// Catalog is immutable once built.
type Catalog struct {
	labels []string
	index  map[string]int
}

// DefaultSessions is 08:00-11:00 and 13:00-16:30.
var DefaultSessions = []Session{
	{Start: 8 * 60, End: 11 * 60},
	{Start: 13 * 60, End: 16*60 + 30},
}

func Default() *Catalog {
	c, _ := New(DefaultSessions, 30*time.Minute)
	return c
}

// New expands sessions into slot labels. A slot is listed only if it ends inside its session.
func New(sessions []Session, granularity time.Duration) (*Catalog, error) {
	step := int(granularity / time.Minute)
	if step <= 0 {
		return nil, fmt.Errorf("%w: granularity must be at least one minute", ErrInvalidSessions)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("%w: no sessions", ErrInvalidSessions)
	}

	c := &Catalog{index: make(map[string]int)}
	prevEnd := -1
	for _, s := range sessions {
		if s.Start < 0 || s.End > 24*60 || s.Start >= s.End {
			return nil, fmt.Errorf("%w: bad window %d-%d", ErrInvalidSessions, s.Start, s.End)
		}
		if s.Start < prevEnd {
			return nil, fmt.Errorf("%w: sessions overlap or are out of order", ErrInvalidSessions)
		}
		prevEnd = s.End
		for m := s.Start; m+step <= s.End; m += step {
			label := fmt.Sprintf("%02d:%02d", m/60, m%60)
			c.index[label] = len(c.labels)
			c.labels = append(c.labels, label)
		}
	}
	if len(c.labels) == 0 {
		return nil, fmt.Errorf("%w: sessions shorter than one slot", ErrInvalidSessions)
	}
	return c, nil
}

// Parse builds a catalog from "08:00-11:00,13:00-16:30".
func Parse(raw string, granularity time.Duration) (*Catalog, error) {
	var sessions []Session
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, ok := strings.Cut(part, "-")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSessions, part)
		}
		start, err := minutes(from)
		if err != nil {
			return nil, err
		}
		end, err := minutes(to)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, Session{Start: start, End: end})
	}
	return New(sessions, granularity)
}

func minutes(label string) (int, error) {
	t, err := time.Parse(labelLayout, strings.TrimSpace(label))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSessions, label)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// List returns the ordered labels. The slice is a copy.
func (c *Catalog) List() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}

func (c *Catalog) Contains(label string) bool {
	_, ok := c.index[label]
	return ok
}

// StartOf returns the wall-clock start of label on day in loc.
func (c *Catalog) StartOf(day time.Time, label string, loc *time.Location) (time.Time, bool) {
	if !c.Contains(label) {
		return time.Time{}, false
	}
	t, _ := time.Parse(labelLayout, label)
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), true
}
