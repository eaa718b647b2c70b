package progress

import (
	"sort"
	"time"
)

// ComputeStreak returns the number of consecutive calendar days, ending today or
// yesterday in loc, that contain at least one of the given instants.
func ComputeStreak(dates []time.Time, today time.Time, loc *time.Location) int {
	days := make([]string, 0, len(dates))
	for _, d := range dates {
		days = append(days, DayKey(d, loc))
	}
	return StreakFromDays(days, today, loc)
}

// StreakFromDays is ComputeStreak over calendar days that are already local to the
// learner (the ActivityDate column). Malformed keys and days after today are ignored.
func StreakFromDays(days []string, today time.Time, loc *time.Location) int {
	if len(days) == 0 {
		return 0
	}

	todayKey := DayKey(today, loc)
	yesterdayKey := shiftDay(todayKey, -1)

	seen := make(map[string]struct{}, len(days))
	unique := make([]string, 0, len(days))
	for _, raw := range days {
		day, err := ParseDay(raw)
		if err != nil || day > todayKey {
			continue
		}
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		unique = append(unique, day)
	}

	_, activeToday := seen[todayKey]
	_, activeYesterday := seen[yesterdayKey]
	if !activeToday && !activeYesterday {
		return 0
	}

	sort.Sort(sort.Reverse(sort.StringSlice(unique)))

	streak := 0
	expected := unique[0]
	for _, day := range unique {
		if day != expected {
			break
		}
		streak++
		expected = shiftDay(expected, -1)
	}
	return streak
}

// StreakFromEntries computes the streak over the ActivityDate of each entry.
func StreakFromEntries(entries []Entry, today time.Time, loc *time.Location) int {
	days := make([]string, 0, len(entries))
	for _, e := range entries {
		days = append(days, e.ActivityDate)
	}
	return StreakFromDays(days, today, loc)
}
