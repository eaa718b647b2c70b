package progress

import "math"

// milestoneSteps are the fixed hour targets; past the last one the staircase
// continues in milestoneStride increments.
var milestoneSteps = []float64{50, 150, 300, 600, 1000, 1500}

const milestoneStride = 500.0

// MilestoneState describes progress toward the next round-number hour target.
type MilestoneState struct {
	CurrentTotalHours  float64 `json:"current_total_hours"`
	NextMilestoneHours float64 `json:"next_milestone_hours"`
	RemainingHours     float64 `json:"remaining_hours"`
	ProgressPercentage float64 `json:"progress_percentage"`
}

// ComputeMilestone derives the milestone state from total study seconds.
func ComputeMilestone(totalSeconds int64) MilestoneState {
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	current := float64(totalSeconds) / secondsPerHour
	next := NextMilestone(current)

	return MilestoneState{
		CurrentTotalHours:  current,
		NextMilestoneHours: next,
		RemainingHours:     math.Max(0, next-current),
		ProgressPercentage: math.Min(100, current/next*100),
	}
}

// NextMilestone returns the first milestone strictly greater than hours, so a total
// sitting exactly on a milestone points at the following one.
func NextMilestone(hours float64) float64 {
	for _, step := range milestoneSteps {
		if step > hours {
			return step
		}
	}
	last := milestoneSteps[len(milestoneSteps)-1]
	return last + milestoneStride*(math.Floor((hours-last)/milestoneStride)+1)
}
