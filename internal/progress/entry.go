package progress

import "time"

// DateLayout is the calendar-day format used for ActivityDate and day keys.
const DateLayout = "2006-01-02"

const secondsPerHour = 3600.0

// Entry is one study-session row as seen by the aggregators.
type Entry struct {
	UserID          string
	LanguageID      string
	ActivityID      string
	DurationSeconds int64
	// ActivityDate is the learner's calendar day the session belongs to (YYYY-MM-DD).
	ActivityDate string
	// CreatedAt is when the row was recorded; week bucketing is relative to account age.
	CreatedAt time.Time
}

func (e Entry) seconds() int64 {
	if e.DurationSeconds < 0 {
		return 0
	}
	return e.DurationSeconds
}

// FilterByLanguage keeps entries for languageID. An empty languageID keeps everything.
func FilterByLanguage(entries []Entry, languageID string) []Entry {
	if languageID == "" {
		return entries
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.LanguageID == languageID {
			out = append(out, e)
		}
	}
	return out
}

// TotalSeconds sums durations of all entries, including ones whose activity is not in the catalog.
func TotalSeconds(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.seconds()
	}
	return total
}

// DayKey formats the calendar day of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(locationOrUTC(loc)).Format(DateLayout)
}

// ParseDay validates and canonicalises a YYYY-MM-DD string.
func ParseDay(s string) (string, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", err
	}
	return t.Format(DateLayout), nil
}

func shiftDay(key string, days int) string {
	t, err := time.Parse(DateLayout, key)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, days).Format(DateLayout)
}

// civilDay returns the calendar day of t in loc as midnight UTC, so that day arithmetic
// is unaffected by DST transitions in loc.
func civilDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(locationOrUTC(loc))
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func mondayOf(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func locationOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// SecondsOnDay sums the durations of entries whose ActivityDate is day.
func SecondsOnDay(entries []Entry, day string) int64 {
	var total int64
	for _, e := range entries {
		if d, err := ParseDay(e.ActivityDate); err == nil && d == day {
			total += e.seconds()
		}
	}
	return total
}
