package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// DurationOption is one row of the duration → profitability table offered to
// traders.
type DurationOption struct {
	Duration      int             `json:"duration"      toml:"duration"`      // seconds
	Profitability decimal.Decimal `json:"profitability" toml:"profitability"` // percent
}

// Schedule is the set of durations a position may be opened with.
type Schedule struct {
	options map[int]decimal.Decimal
}

// DefaultSchedule returns the built-in table.
func DefaultSchedule() *Schedule {
	s, _ := NewSchedule([]DurationOption{
		{Duration: 30, Profitability: decimal.NewFromInt(20)},
		{Duration: 60, Profitability: decimal.NewFromInt(25)},
		{Duration: 90, Profitability: decimal.NewFromInt(35)},
		{Duration: 120, Profitability: decimal.NewFromInt(45)},
		{Duration: 180, Profitability: decimal.NewFromInt(60)},
		{Duration: 360, Profitability: decimal.NewFromInt(70)},
		{Duration: 420, Profitability: decimal.NewFromInt(75)},
		{Duration: 510, Profitability: decimal.NewFromInt(80)},
		{Duration: 620, Profitability: decimal.NewFromInt(90)},
	})
	return s
}

// NewSchedule validates opts and builds a Schedule.
func NewSchedule(opts []DurationOption) (*Schedule, error) {
	if len(opts) == 0 {
		return nil, fmt.Errorf("schedule: no duration options")
	}
	m := make(map[int]decimal.Decimal, len(opts))
	for _, o := range opts {
		if o.Duration <= 0 {
			return nil, fmt.Errorf("schedule: duration %d must be positive", o.Duration)
		}
		if o.Profitability.IsNegative() || o.Profitability.GreaterThan(MaxProfitability) {
			return nil, fmt.Errorf("schedule: profitability %s for %ds out of range", o.Profitability, o.Duration)
		}
		if _, dup := m[o.Duration]; dup {
			return nil, fmt.Errorf("schedule: duplicate duration %d", o.Duration)
		}
		m[o.Duration] = o.Profitability
	}
	return &Schedule{options: m}, nil
}

// Options returns the table sorted by duration.
func (s *Schedule) Options() []DurationOption {
	out := make([]DurationOption, 0, len(s.options))
	for d, p := range s.options {
		out = append(out, DurationOption{Duration: d, Profitability: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Duration < out[j].Duration })
	return out
}

// ProfitabilityFor returns the profitability offered for duration.
func (s *Schedule) ProfitabilityFor(duration int) (decimal.Decimal, bool) {
	p, ok := s.options[duration]
	return p, ok
}

// Check rejects a duration/profitability pair that is not in the table.
func (s *Schedule) Check(duration int, profitability decimal.Decimal) error {
	want, ok := s.options[duration]
	if !ok {
		return &ValidationError{Field: "duration", Reason: fmt.Sprintf("%ds is not an offered duration", duration)}
	}
	if !want.Equal(profitability) {
		return &ValidationError{Field: "profitability", Reason: fmt.Sprintf("must be %s for %ds", want, duration)}
	}
	return nil
}
