// Package outbound drives agent-initiated conversations: per-queue tick
// scheduling, entry selection, and qualification-driven follow-up cadence.
package outbound

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/filipexyz/ravi-sub000/internal/store"
)

// withinHours reports whether now falls inside the queue's active-hours
// window in its timezone. Empty start/end means always active. Windows may
// wrap midnight ("22:00".."06:00").
func withinHours(q *store.OutboundQueue, now time.Time) (bool, error) {
	if q.HoursStart == "" || q.HoursEnd == "" {
		return true, nil
	}
	loc := time.UTC
	if q.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(q.Timezone)
		if err != nil {
			return false, fmt.Errorf("%w: timezone %q", store.ErrInvalidInput, q.Timezone)
		}
	}
	start, err := minuteOfDay(q.HoursStart)
	if err != nil {
		return false, err
	}
	end, err := minuteOfDay(q.HoursEnd)
	if err != nil {
		return false, err
	}

	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()
	if start <= end {
		return cur >= start && cur < end, nil
	}
	// Window wraps midnight.
	return cur >= start || cur < end, nil
}

func minuteOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("%w: hours %q", store.ErrInvalidInput, hhmm)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// scheduleDue reports whether the queue's optional cron expression gates this
// tick. Due means the expression matched within the last tick interval.
func scheduleDue(q *store.OutboundQueue, now time.Time, tick time.Duration) (bool, error) {
	if q.Schedule == "" {
		return true, nil
	}
	gron := gronx.New()
	if !gron.IsValid(q.Schedule) {
		return false, fmt.Errorf("%w: cron %q", store.ErrInvalidInput, q.Schedule)
	}
	prev, err := gronx.PrevTickBefore(q.Schedule, now, true)
	if err != nil {
		return false, err
	}
	return now.Sub(prev) < tick, nil
}

// nextEligible computes when an entry may be sent to again. Once qualified
// with a configured follow-up delay, that delay replaces the queue's base
// interval.
func nextEligible(q *store.OutboundQueue, e *store.OutboundEntry) time.Time {
	if e.LastSentAt == nil {
		return time.Time{} // never sent: eligible immediately
	}
	delay := time.Duration(q.IntervalMs) * time.Millisecond
	if e.Qualification != "" {
		if minutes, ok := q.FollowUp[e.Qualification]; ok {
			delay = time.Duration(minutes) * time.Minute
		}
	}
	return e.LastSentAt.Add(delay)
}
