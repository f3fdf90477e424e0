// Package formula provides the pure numeric primitives the scoring engine is
// built on. Everything here is stateless and side-effect free.
package formula

import "math"

// Clamp bounds v to the [0, 100] score range.
func Clamp(v float64) float64 {
	return ClampRange(v, 0, 100)
}

// ClampRange bounds v to [lo, hi].
func ClampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Normalize maps v from [min, max] onto the 0-100 score range.
// Returns 0 for a degenerate range.
func Normalize(v, min, max float64) float64 {
	if max <= min {
		return 0
	}
	return Clamp((v - min) / (max - min) * 100)
}

// TimeDecayWeight returns an exponential decay weight: 1.0 at zero age,
// 0.5 after one half-life.
func TimeDecayWeight(daysAgo, halfLifeDays float64) float64 {
	if halfLifeDays < 1 {
		halfLifeDays = 1
	}
	return math.Exp(-math.Ln2 / halfLifeDays * daysAgo)
}

// WeightedAverage computes the weight-normalized average of values, clamped
// to the score range. Returns 0 when the total weight is 0.
func WeightedAverage(weights, values []float64) float64 {
	var totalWeight, sum float64
	for i := range weights {
		if i >= len(values) {
			break
		}
		totalWeight += weights[i]
		sum += weights[i] * values[i]
	}
	if totalWeight == 0 {
		return 0
	}
	return Clamp(sum / totalWeight)
}

const (
	TierHot  = "hot"
	TierWarm = "warm"
	TierCold = "cold"

	hotThreshold  = 80
	warmThreshold = 60
)

// LeadFactors holds the four factor scores a lead composite is built from.
type LeadFactors struct {
	Demographic float64 `json:"demographic"`
	Engagement  float64 `json:"engagement"`
	Behavioral  float64 `json:"behavioral"`
	Historical  float64 `json:"historical"`
}

// LeadWeights holds per-factor weights. Zero-valued fields fall back to the
// default equal split.
type LeadWeights struct {
	Demographic float64 `json:"demographic" yaml:"demographic"`
	Engagement  float64 `json:"engagement" yaml:"engagement"`
	Behavioral  float64 `json:"behavioral" yaml:"behavioral"`
	Historical  float64 `json:"historical" yaml:"historical"`
}

// DefaultLeadWeights is the equal split used when a tenant overrides nothing.
func DefaultLeadWeights() LeadWeights {
	return LeadWeights{Demographic: 0.25, Engagement: 0.25, Behavioral: 0.25, Historical: 0.25}
}

// Merge overlays non-zero override fields onto w.
func (w LeadWeights) Merge(override LeadWeights) LeadWeights {
	if override.Demographic > 0 {
		w.Demographic = override.Demographic
	}
	if override.Engagement > 0 {
		w.Engagement = override.Engagement
	}
	if override.Behavioral > 0 {
		w.Behavioral = override.Behavioral
	}
	if override.Historical > 0 {
		w.Historical = override.Historical
	}
	return w
}

// ScoreLead combines the factor scores into a composite and classifies it
// into a tier: hot >= 80, warm >= 60, cold otherwise.
func ScoreLead(factors LeadFactors, overrides LeadWeights) (float64, string) {
	w := DefaultLeadWeights().Merge(overrides)

	score := WeightedAverage(
		[]float64{w.Demographic, w.Engagement, w.Behavioral, w.Historical},
		[]float64{factors.Demographic, factors.Engagement, factors.Behavioral, factors.Historical},
	)

	tier := TierCold
	switch {
	case score >= hotThreshold:
		tier = TierHot
	case score >= warmThreshold:
		tier = TierWarm
	}
	return score, tier
}

// DisciplineFactors holds the five process-adherence factor scores.
type DisciplineFactors struct {
	FollowUpFrequency   float64 `json:"followUpFrequency"`
	MeetingAdherence    float64 `json:"meetingAdherence"`
	TaskCompletion      float64 `json:"taskCompletion"`
	DataEntryTimeliness float64 `json:"dataEntryTimeliness"`
	PipelineHygiene     float64 `json:"pipelineHygiene"`
}

// DisciplineWeights holds per-factor weights for the discipline index.
type DisciplineWeights struct {
	FollowUpFrequency   float64 `json:"followUpFrequency" yaml:"followUpFrequency"`
	MeetingAdherence    float64 `json:"meetingAdherence" yaml:"meetingAdherence"`
	TaskCompletion      float64 `json:"taskCompletion" yaml:"taskCompletion"`
	DataEntryTimeliness float64 `json:"dataEntryTimeliness" yaml:"dataEntryTimeliness"`
	PipelineHygiene     float64 `json:"pipelineHygiene" yaml:"pipelineHygiene"`
}

// DefaultDisciplineWeights is the equal split over the five factors.
func DefaultDisciplineWeights() DisciplineWeights {
	return DisciplineWeights{
		FollowUpFrequency:   0.2,
		MeetingAdherence:    0.2,
		TaskCompletion:      0.2,
		DataEntryTimeliness: 0.2,
		PipelineHygiene:     0.2,
	}
}

// Merge overlays non-zero override fields onto w.
func (w DisciplineWeights) Merge(override DisciplineWeights) DisciplineWeights {
	if override.FollowUpFrequency > 0 {
		w.FollowUpFrequency = override.FollowUpFrequency
	}
	if override.MeetingAdherence > 0 {
		w.MeetingAdherence = override.MeetingAdherence
	}
	if override.TaskCompletion > 0 {
		w.TaskCompletion = override.TaskCompletion
	}
	if override.DataEntryTimeliness > 0 {
		w.DataEntryTimeliness = override.DataEntryTimeliness
	}
	if override.PipelineHygiene > 0 {
		w.PipelineHygiene = override.PipelineHygiene
	}
	return w
}

// ScoreDiscipline combines the discipline factors into one index. No tiering.
func ScoreDiscipline(factors DisciplineFactors, overrides DisciplineWeights) float64 {
	w := DefaultDisciplineWeights().Merge(overrides)
	return WeightedAverage(
		[]float64{w.FollowUpFrequency, w.MeetingAdherence, w.TaskCompletion, w.DataEntryTimeliness, w.PipelineHygiene},
		[]float64{factors.FollowUpFrequency, factors.MeetingAdherence, factors.TaskCompletion, factors.DataEntryTimeliness, factors.PipelineHygiene},
	)
}

// WilsonInterval computes the Wilson score confidence interval for a binomial
// proportion, returned as percentages. With no observations the full range
// [0, 100] is returned.
func WilsonInterval(successes, total int, z float64) (low, high float64) {
	if total == 0 {
		return 0, 100
	}
	if z <= 0 {
		z = 1.96
	}

	n := float64(total)
	p := float64(successes) / n
	z2 := z * z

	denom := 1 + z2/n
	center := p + z2/(2*n)
	margin := z * math.Sqrt(p*(1-p)/n+z2/(4*n*n))

	low = ClampRange((center-margin)/denom, 0, 1) * 100
	high = ClampRange((center+margin)/denom, 0, 1) * 100
	return low, high
}
