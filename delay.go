package arrivals

import (
	"math"
	"time"

	"tidbyt.dev/arrivals/model"
)

// Differences smaller than this are reported as on time.
const DelayThreshold = 90 * time.Second

// Classifies actual against scheduled. A zero scheduled time means
// there's nothing to compare against, and yields DelayUnknown.
func Classify(actual time.Time, scheduled time.Time) model.DelayLabel {
	if scheduled.IsZero() {
		return model.DelayLabel{}
	}

	delta := int64(actual.Sub(scheduled) / time.Second)
	threshold := int64(DelayThreshold / time.Second)

	switch {
	case delta >= threshold:
		return model.DelayLabel{Kind: model.DelayLate, Minutes: int(delta / 60)}
	case delta <= -threshold:
		return model.DelayLabel{Kind: model.DelayEarly, Minutes: int(-delta / 60)}
	}

	return model.DelayLabel{Kind: model.DelayOnTime}
}

// Whole minutes from now until actual, never negative.
func Countdown(actual time.Time, now time.Time) int {
	minutes := int(math.Floor(actual.Sub(now).Minutes()))
	return max(0, minutes)
}
