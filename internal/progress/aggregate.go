package progress

import (
	"fmt"
	"time"
)

// WeekWindow is the number of trailing weeks reported by AggregateByWeek.
const WeekWindow = 6

// Distribution is a chart-ready series. Labels and Hours always have the same length.
type Distribution struct {
	Labels []string  `json:"labels"`
	Hours  []float64 `json:"hours"`
}

// InputOutput splits study time by modality.
type InputOutput struct {
	InputHours        float64 `json:"input_hours"`
	OutputHours       float64 `json:"output_hours"`
	UnclassifiedHours float64 `json:"unclassified_hours"`
}

// AggregateByActivity sums hours per catalog activity in catalog order. Entries whose
// activity is not in the catalog are left out.
func AggregateByActivity(entries []Entry, catalog *Catalog) Distribution {
	activities := catalog.Activities()
	seconds := make([]int64, len(activities))
	for _, e := range entries {
		if i, ok := catalog.position(e.ActivityID); ok {
			seconds[i] += e.seconds()
		}
	}

	dist := Distribution{
		Labels: make([]string, len(activities)),
		Hours:  make([]float64, len(activities)),
	}
	for i, a := range activities {
		dist.Labels[i] = a.Name
		dist.Hours[i] = float64(seconds[i]) / secondsPerHour
	}
	return dist
}

// AggregateByWeek buckets hours into account-relative weeks. The Monday of the signup
// week starts week 1. The result always covers WeekWindow weeks ending at the current
// week (or weeks 1..WeekWindow for younger accounts); empty weeks report zero.
func AggregateByWeek(entries []Entry, accountCreatedAt, today time.Time, loc *time.Location) Distribution {
	signupMonday := mondayOf(civilDay(accountCreatedAt, loc))
	current := weekNumber(signupMonday, civilDay(today, loc))

	start := current - (WeekWindow - 1)
	if start < 1 {
		start = 1
	}

	var seconds [WeekWindow]int64
	for _, e := range entries {
		day, ok := entryWeekDay(e, loc)
		if !ok {
			continue
		}
		idx := weekNumber(signupMonday, day) - start
		if idx < 0 || idx >= WeekWindow {
			continue
		}
		seconds[idx] += e.seconds()
	}

	dist := Distribution{
		Labels: make([]string, WeekWindow),
		Hours:  make([]float64, WeekWindow),
	}
	for i := 0; i < WeekWindow; i++ {
		dist.Labels[i] = fmt.Sprintf("Week %d", start+i)
		dist.Hours[i] = float64(seconds[i]) / secondsPerHour
	}
	return dist
}

// AggregateInputOutput partitions hours by the catalog's modality mapping. Catalog
// activities without an input/output modality are reported as unclassified; entries
// outside the catalog are left out.
func AggregateInputOutput(entries []Entry, catalog *Catalog) InputOutput {
	var input, output, unclassified int64
	for _, e := range entries {
		activity, ok := catalog.Lookup(e.ActivityID)
		if !ok {
			continue
		}
		switch activity.Modality {
		case ModalityInput:
			input += e.seconds()
		case ModalityOutput:
			output += e.seconds()
		default:
			unclassified += e.seconds()
		}
	}
	return InputOutput{
		InputHours:        float64(input) / secondsPerHour,
		OutputHours:       float64(output) / secondsPerHour,
		UnclassifiedHours: float64(unclassified) / secondsPerHour,
	}
}

func weekNumber(signupMonday, day time.Time) int {
	return floorDiv(daysBetween(signupMonday, day), 7) + 1
}

// entryWeekDay picks the local day used for week bucketing: the record's creation
// time, falling back to ActivityDate for rows without one.
func entryWeekDay(e Entry, loc *time.Location) (time.Time, bool) {
	if !e.CreatedAt.IsZero() {
		return civilDay(e.CreatedAt, loc), true
	}
	day, err := time.Parse(DateLayout, e.ActivityDate)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}
