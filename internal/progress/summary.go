package progress

import "time"

// TotalTime is a duration split into whole hours, minutes and seconds (floored).
type TotalTime struct {
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
	Seconds int64 `json:"seconds"`
}

// AverageSession compares today's mean session length with yesterday's.
type AverageSession struct {
	TodaySeconds     float64 `json:"today_seconds"`
	YesterdaySeconds float64 `json:"yesterday_seconds"`
	// ChangePercent is nil when yesterday has no sessions, since the change is undefined.
	ChangePercent *float64 `json:"change_percent"`
}

// Summary is the headline block of the progress report.
type Summary struct {
	TotalTime      TotalTime      `json:"total_time"`
	AverageSession AverageSession `json:"average_session"`
}

// SplitDuration converts seconds into hours/minutes/seconds using integer division.
func SplitDuration(totalSeconds int64) TotalTime {
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	return TotalTime{
		Hours:   totalSeconds / 3600,
		Minutes: (totalSeconds % 3600) / 60,
		Seconds: totalSeconds % 60,
	}
}

// ComposeSummary builds total time over every entry and the day-over-day average
// session comparison for today and yesterday in loc.
func ComposeSummary(entries []Entry, today time.Time, loc *time.Location) Summary {
	todayKey := DayKey(today, loc)
	yesterdayKey := shiftDay(todayKey, -1)

	var todaySum, yesterdaySum int64
	var todayCount, yesterdayCount int
	for _, e := range entries {
		day, err := ParseDay(e.ActivityDate)
		if err != nil {
			continue
		}
		switch day {
		case todayKey:
			todaySum += e.seconds()
			todayCount++
		case yesterdayKey:
			yesterdaySum += e.seconds()
			yesterdayCount++
		}
	}

	avg := AverageSession{
		TodaySeconds:     mean(todaySum, todayCount),
		YesterdaySeconds: mean(yesterdaySum, yesterdayCount),
	}
	if avg.YesterdaySeconds != 0 {
		change := (avg.TodaySeconds - avg.YesterdaySeconds) / avg.YesterdaySeconds * 100
		avg.ChangePercent = &change
	}

	return Summary{
		TotalTime:      SplitDuration(TotalSeconds(entries)),
		AverageSession: avg,
	}
}

func mean(sum int64, count int) float64 {
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}
