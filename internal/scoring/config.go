package scoring

import (
	"encoding/json"

	"salesflow_backend/internal/scoring/formula"
)

// DemographicConfig holds the tenant targets demographic scoring compares against.
type DemographicConfig struct {
	TargetBudgetMin     float64            `json:"targetBudgetMin"`
	TargetBudgetMax     float64            `json:"targetBudgetMax"`
	TargetPropertyTypes []string           `json:"targetPropertyTypes"`
	TargetLocations     []string           `json:"targetLocations"`
	TagScores           map[string]float64 `json:"tagScores"`
	DefaultTagScore     float64            `json:"defaultTagScore"`
}

// EngagementConfig controls decay-weighted activity scoring.
type EngagementConfig struct {
	Target          float64            `json:"target"`
	HalfLifeDays    float64            `json:"halfLifeDays"`
	ActivityWeights map[string]float64 `json:"activityWeights"`
}

// BehavioralConfig controls the process-behavior blend.
type BehavioralConfig struct {
	TaskWeight         float64 `json:"taskWeight"`
	MeetingWeight      float64 `json:"meetingWeight"`
	RecencyWeight      float64 `json:"recencyWeight"`
	RecencyHorizonDays float64 `json:"recencyHorizonDays"`
	ExtensionPenalty   float64 `json:"extensionPenalty"`
}

// HistoricalConfig controls conversion and velocity scoring.
type HistoricalConfig struct {
	ConversionWeight float64 `json:"conversionWeight"`
	VelocityWeight   float64 `json:"velocityWeight"`
	TypicalDwellDays float64 `json:"typicalDwellDays"`
}

// Config is the full per-tenant scoring configuration, resolved once per call
// by shallow-merging tenant overrides over the compiled defaults.
type Config struct {
	LeadWeights       formula.LeadWeights       `json:"leadWeights"`
	DisciplineWeights formula.DisciplineWeights `json:"disciplineWeights"`
	Demographic       DemographicConfig         `json:"demographic"`
	Engagement        EngagementConfig          `json:"engagement"`
	Behavioral        BehavioralConfig          `json:"behavioral"`
	Historical        HistoricalConfig          `json:"historical"`
	StageProbability  map[string]float64        `json:"stageProbability"`
	CompetitorPenalty float64                   `json:"competitorPenalty"`
}

// DefaultConfig returns the compile-time scoring defaults.
func DefaultConfig() Config {
	return Config{
		LeadWeights:       formula.DefaultLeadWeights(),
		DisciplineWeights: formula.DefaultDisciplineWeights(),
		Demographic: DemographicConfig{
			TargetBudgetMin: 50_000,
			TargetBudgetMax: 1_000_000,
			DefaultTagScore: 40,
		},
		Engagement: EngagementConfig{
			Target:       50,
			HalfLifeDays: 14,
			ActivityWeights: map[string]float64{
				"call":       5,
				"email":      2,
				"meeting":    8,
				"site_visit": 10,
				"note":       1,
			},
		},
		Behavioral: BehavioralConfig{
			TaskWeight:         0.4,
			MeetingWeight:      0.4,
			RecencyWeight:      0.2,
			RecencyHorizonDays: 30,
			ExtensionPenalty:   10,
		},
		Historical: HistoricalConfig{
			ConversionWeight: 0.6,
			VelocityWeight:   0.4,
			TypicalDwellDays: 7,
		},
		StageProbability: map[string]float64{
			"prospecting":   20,
			"qualification": 35,
			"proposal":      50,
			"negotiation":   65,
			"closing":       80,
			"won":           100,
			"lost":          0,
		},
		CompetitorPenalty: 15,
	}
}

// configOverride mirrors Config with pointer groups so absent groups stay at
// their defaults. Overrides are applied per group, not wholesale.
type configOverride struct {
	LeadWeights       *formula.LeadWeights       `json:"leadWeights"`
	DisciplineWeights *formula.DisciplineWeights `json:"disciplineWeights"`
	Demographic       *DemographicConfig         `json:"demographic"`
	Engagement        *EngagementConfig          `json:"engagement"`
	Behavioral        *BehavioralConfig          `json:"behavioral"`
	Historical        *HistoricalConfig          `json:"historical"`
	StageProbability  map[string]float64         `json:"stageProbability"`
	CompetitorPenalty *float64                   `json:"competitorPenalty"`
}

// ResolveConfig overlays the tenant's raw settings document onto the defaults.
// An empty or malformed document resolves to pure defaults.
func ResolveConfig(rawSettings []byte) Config {
	cfg := DefaultConfig()
	if len(rawSettings) == 0 {
		return cfg
	}

	var wrapper struct {
		Scoring *configOverride `json:"scoring"`
	}
	if err := json.Unmarshal(rawSettings, &wrapper); err != nil || wrapper.Scoring == nil {
		return cfg
	}

	o := wrapper.Scoring
	if o.LeadWeights != nil {
		cfg.LeadWeights = cfg.LeadWeights.Merge(*o.LeadWeights)
	}
	if o.DisciplineWeights != nil {
		cfg.DisciplineWeights = cfg.DisciplineWeights.Merge(*o.DisciplineWeights)
	}
	if o.Demographic != nil {
		cfg.Demographic = mergeDemographic(cfg.Demographic, *o.Demographic)
	}
	if o.Engagement != nil {
		cfg.Engagement = mergeEngagement(cfg.Engagement, *o.Engagement)
	}
	if o.Behavioral != nil {
		cfg.Behavioral = mergeBehavioral(cfg.Behavioral, *o.Behavioral)
	}
	if o.Historical != nil {
		cfg.Historical = mergeHistorical(cfg.Historical, *o.Historical)
	}
	for stage, p := range o.StageProbability {
		cfg.StageProbability[stage] = p
	}
	if o.CompetitorPenalty != nil {
		cfg.CompetitorPenalty = *o.CompetitorPenalty
	}
	return cfg
}

func mergeDemographic(base, o DemographicConfig) DemographicConfig {
	if o.TargetBudgetMin > 0 {
		base.TargetBudgetMin = o.TargetBudgetMin
	}
	if o.TargetBudgetMax > 0 {
		base.TargetBudgetMax = o.TargetBudgetMax
	}
	if len(o.TargetPropertyTypes) > 0 {
		base.TargetPropertyTypes = o.TargetPropertyTypes
	}
	if len(o.TargetLocations) > 0 {
		base.TargetLocations = o.TargetLocations
	}
	if len(o.TagScores) > 0 {
		base.TagScores = o.TagScores
	}
	if o.DefaultTagScore > 0 {
		base.DefaultTagScore = o.DefaultTagScore
	}
	return base
}

func mergeEngagement(base, o EngagementConfig) EngagementConfig {
	if o.Target > 0 {
		base.Target = o.Target
	}
	if o.HalfLifeDays > 0 {
		base.HalfLifeDays = o.HalfLifeDays
	}
	if len(o.ActivityWeights) > 0 {
		base.ActivityWeights = o.ActivityWeights
	}
	return base
}

func mergeBehavioral(base, o BehavioralConfig) BehavioralConfig {
	if o.TaskWeight > 0 {
		base.TaskWeight = o.TaskWeight
	}
	if o.MeetingWeight > 0 {
		base.MeetingWeight = o.MeetingWeight
	}
	if o.RecencyWeight > 0 {
		base.RecencyWeight = o.RecencyWeight
	}
	if o.RecencyHorizonDays > 0 {
		base.RecencyHorizonDays = o.RecencyHorizonDays
	}
	if o.ExtensionPenalty > 0 {
		base.ExtensionPenalty = o.ExtensionPenalty
	}
	return base
}

func mergeHistorical(base, o HistoricalConfig) HistoricalConfig {
	if o.ConversionWeight > 0 {
		base.ConversionWeight = o.ConversionWeight
	}
	if o.VelocityWeight > 0 {
		base.VelocityWeight = o.VelocityWeight
	}
	if o.TypicalDwellDays > 0 {
		base.TypicalDwellDays = o.TypicalDwellDays
	}
	return base
}
