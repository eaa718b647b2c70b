package progress

import "time"

// ReportInput carries everything BuildReport needs. Today and Location are supplied by
// the caller; the aggregators never read the wall clock.
type ReportInput struct {
	Entries          []Entry
	Catalog          *Catalog
	LanguageID       string
	AccountCreatedAt time.Time
	Today            time.Time
	Location         *time.Location
}

// Report is the full progress view for one learner.
type Report struct {
	LanguageID     string         `json:"language_id,omitempty"`
	TimeZone       string         `json:"time_zone"`
	GeneratedAt    time.Time      `json:"generated_at"`
	TotalTime      TotalTime      `json:"total_time"`
	AverageSession AverageSession `json:"average_session"`
	CurrentStreak  int            `json:"current_streak"`
	Milestone      MilestoneState `json:"milestone"`
	ByActivity     Distribution   `json:"by_activity"`
	ByWeek         Distribution   `json:"by_week"`
	InputOutput    InputOutput    `json:"input_output"`
}

// BuildReport runs every aggregator over the same entry set.
func BuildReport(in ReportInput) Report {
	loc := locationOrUTC(in.Location)
	entries := FilterByLanguage(in.Entries, in.LanguageID)
	summary := ComposeSummary(entries, in.Today, loc)

	return Report{
		LanguageID:     in.LanguageID,
		TimeZone:       loc.String(),
		GeneratedAt:    in.Today,
		TotalTime:      summary.TotalTime,
		AverageSession: summary.AverageSession,
		CurrentStreak:  StreakFromEntries(entries, in.Today, loc),
		Milestone:      ComputeMilestone(TotalSeconds(entries)),
		ByActivity:     AggregateByActivity(entries, in.Catalog),
		ByWeek:         AggregateByWeek(entries, in.AccountCreatedAt, in.Today, loc),
		InputOutput:    AggregateInputOutput(entries, in.Catalog),
	}
}
