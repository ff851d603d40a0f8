// Package icron describes when a standard five-field cron expression fires.
package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// maxLookback bounds the search for the previous trigger.
const maxLookback = 2 * 366 * 24 * time.Hour

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
		Last:       previous(schedule, refTime),
	}
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	if !info.Next.IsZero() {
		info.TimeUntilNext = info.Next.Sub(refTime)
	}
	return info, nil
}

// previous returns the latest activation at or before ref, widening the
// window it replays until one is found.
func previous(s cron.Schedule, ref time.Time) time.Time {
	for window := time.Hour; window <= maxLookback; window *= 4 {
		var last time.Time
		for t := s.Next(ref.Add(-window)); !t.IsZero() && !t.After(ref); t = s.Next(t) {
			last = t
		}
		if !last.IsZero() {
			return last
		}
	}
	return time.Time{}
}
