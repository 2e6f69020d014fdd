// Package policy decides whether a channel may publish another post at a
// given instant. Everything here is pure: no clock, no store.
package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ifuryst/plume/internal/models"
)

const (
	ReasonOutsideWindow = "outside posting window"
	ReasonDailyCap      = "daily cap reached"
	ReasonTooSoon       = "too soon since last post"
)

// Decision is the result of CanPublishNow. Reason is empty when allowed.
type Decision struct {
	Allow  bool
	Reason string
}

func allow() Decision { return Decision{Allow: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// CanPublishNow evaluates the posting window, the daily cap and the minimum
// spacing for one more post at now. published holds the publishedAt
// instants of the posts this channel already published during the local
// day containing now.
//
// A MaxPostsPerDay or MinMinutesBetweenPosts of zero or less disables that
// limit. Empty window bounds are unbounded in their direction. Spacing is
// inclusive: exactly MinMinutesBetweenPosts after the last post allows.
func CanPublishNow(cfg models.ChannelConfig, now time.Time, published []time.Time) Decision {
	localNow := now.In(Location(cfg.Timezone))

	if !inWindow(cfg, localNow) {
		return deny(ReasonOutsideWindow)
	}

	if cfg.MaxPostsPerDay > 0 && len(published) >= cfg.MaxPostsPerDay {
		return deny(ReasonDailyCap)
	}

	if cfg.MinMinutesBetweenPosts > 0 {
		if last, ok := latest(published); ok {
			spacing := time.Duration(cfg.MinMinutesBetweenPosts) * time.Minute
			if now.Sub(last) < spacing {
				return deny(ReasonTooSoon)
			}
		}
	}

	return allow()
}

// Location resolves an IANA timezone name, falling back to UTC when the
// name is empty or unknown.
func Location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DayBounds returns the [start, end) instants of the local day containing
// now in the channel's timezone.
func DayBounds(cfg models.ChannelConfig, now time.Time) (time.Time, time.Time) {
	local := now.In(Location(cfg.Timezone))
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	return start, start.AddDate(0, 0, 1)
}

// Validate reports configuration mistakes that CanPublishNow would
// otherwise silently treat as unbounded.
func Validate(cfg models.ChannelConfig) error {
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
	}
	if _, ok, err := parseClock(cfg.DailyStartTime); ok && err != nil {
		return fmt.Errorf("invalid daily start time: %w", err)
	}
	if _, ok, err := parseClock(cfg.DailyEndTime); ok && err != nil {
		return fmt.Errorf("invalid daily end time: %w", err)
	}
	return nil
}

// inWindow compares at second precision; both bounds are inclusive. A start
// later than the end describes a window that wraps past midnight.
func inWindow(cfg models.ChannelConfig, localNow time.Time) bool {
	start, hasStart, errStart := parseClock(cfg.DailyStartTime)
	end, hasEnd, errEnd := parseClock(cfg.DailyEndTime)
	hasStart = hasStart && errStart == nil
	hasEnd = hasEnd && errEnd == nil

	t := localNow.Hour()*3600 + localNow.Minute()*60 + localNow.Second()

	switch {
	case hasStart && hasEnd && start > end:
		return t >= start || t <= end
	case hasStart && t < start:
		return false
	case hasEnd && t > end:
		return false
	}
	return true
}

// parseClock turns "HH:MM" into seconds since midnight. ok is false for an
// unset bound.
func parseClock(s string) (int, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	hh, mm, found := strings.Cut(s, ":")
	if !found {
		return 0, true, fmt.Errorf("%q is not HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, true, fmt.Errorf("%q has an invalid hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, true, fmt.Errorf("%q has an invalid minute", s)
	}
	return h*3600 + m*60, true, nil
}

func latest(ts []time.Time) (time.Time, bool) {
	var last time.Time
	for _, t := range ts {
		if t.After(last) {
			last = t
		}
	}
	return last, !last.IsZero()
}
