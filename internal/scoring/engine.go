package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"salesflow_backend/internal/events"
	leadrepo "salesflow_backend/internal/leads/repository"
	"salesflow_backend/internal/scoring/formula"
	"salesflow_backend/platform/apperr"
	"salesflow_backend/platform/logger"
)

const disciplineWindow = 30 * 24 * time.Hour

// Store is the Repository surface the engine consumes.
type Store interface {
	GetDeal(ctx context.Context, id, tenantID uuid.UUID) (Deal, error)
	ListLeadActivities(ctx context.Context, tenantID, leadID uuid.UUID, since time.Time) ([]Activity, error)
	CountDealActivities(ctx context.Context, tenantID, dealID uuid.UUID, since time.Time) (int, error)
	LeadTaskStats(ctx context.Context, tenantID, leadID uuid.UUID) (TaskStats, error)
	LeadMeetingStats(ctx context.Context, tenantID, leadID uuid.UUID) (MeetingStats, error)
	LastContactAt(ctx context.Context, tenantID, leadID uuid.UUID) (*time.Time, error)
	CountPendingExtensions(ctx context.Context, tenantID, leadID uuid.UUID) (int, error)
	SourceConversionRate(ctx context.Context, tenantID uuid.UUID, source string) (SourceConversion, error)
	AvgStageDwellDays(ctx context.Context, tenantID, leadID uuid.UUID) (float64, error)
	StageHistoryFor(ctx context.Context, tenantID uuid.UUID, stage string) (StageHistory, error)
	HasCompetitorActivity(ctx context.Context, tenantID, dealID uuid.UUID) (bool, error)

	CountAssignedLeads(ctx context.Context, tenantID, userID uuid.UUID) (int, error)
	CountUserActivities(ctx context.Context, tenantID, userID uuid.UUID, since time.Time) (int, error)
	UserTaskStats(ctx context.Context, tenantID, userID uuid.UUID, since time.Time) (TaskStats, error)
	UserMeetingStats(ctx context.Context, tenantID, userID uuid.UUID, since time.Time) (MeetingStats, error)
	AvgFirstTouchHours(ctx context.Context, tenantID, userID uuid.UUID, since time.Time) (float64, error)
	FreshLeadFraction(ctx context.Context, tenantID, userID uuid.UUID, freshSince time.Time) (float64, error)

	InsertLeadScore(ctx context.Context, tenantID, leadID uuid.UUID, score float64, tier string, factors []byte) error
	InsertDisciplineSnapshot(ctx context.Context, tenantID, userID uuid.UUID, score float64, factors []byte) error
	InsertRiskScore(ctx context.Context, tenantID, dealID uuid.UUID, probability, low, high float64, factors []byte) error
}

// SettingsReader resolves per-tenant configuration overrides.
type SettingsReader interface {
	GetTenantSettings(ctx context.Context, tenantID uuid.UUID) ([]byte, error)
}

// LeadScore is the result of a lead scoring pass.
type LeadScore struct {
	LeadID  uuid.UUID           `json:"leadId"`
	Score   float64             `json:"score"`
	Tier    string              `json:"tier"`
	Factors formula.LeadFactors `json:"factors"`
}

// DisciplineScore is the result of a user discipline pass.
type DisciplineScore struct {
	UserID  uuid.UUID                 `json:"userId"`
	Score   float64                   `json:"score"`
	Factors formula.DisciplineFactors `json:"factors"`
}

// DealProbability carries the point estimate plus the Wilson band.
type DealProbability struct {
	DealID       uuid.UUID `json:"dealId"`
	Probability  float64   `json:"probability"`
	IntervalLow  float64   `json:"intervalLow"`
	IntervalHigh float64   `json:"intervalHigh"`
}

type Engine struct {
	store    Store
	leads    leadrepo.LeadReader
	settings SettingsReader
	bus      events.Bus
	log      *logger.Logger
	now      func() time.Time
}

func NewEngine(store Store, leads leadrepo.LeadReader, settings SettingsReader, bus events.Bus, log *logger.Logger) *Engine {
	return &Engine{
		store:    store,
		leads:    leads,
		settings: settings,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
}

func (e *Engine) config(ctx context.Context, tenantID uuid.UUID) Config {
	raw, err := e.settings.GetTenantSettings(ctx, tenantID)
	if err != nil {
		e.log.Warn("tenant settings unavailable, using scoring defaults",
			"tenant_id", tenantID, "error", err)
		return DefaultConfig()
	}
	return ResolveConfig(raw)
}

// ScoreLead computes the four factor scores for a lead, persists an immutable
// snapshot, and publishes the result.
func (e *Engine) ScoreLead(ctx context.Context, tenantID, leadID uuid.UUID) (LeadScore, error) {
	const op = "scoring.Engine.ScoreLead"

	lead, err := e.leads.GetByID(ctx, leadID, tenantID)
	if err != nil {
		if errors.Is(err, leadrepo.ErrNotFound) {
			return LeadScore{}, apperr.NotFound("lead not found").WithOp(op)
		}
		return LeadScore{}, apperr.Wrap(apperr.KindInternal, "failed to load lead", err).WithOp(op)
	}

	cfg := e.config(ctx, tenantID)
	now := e.now()

	factors := formula.LeadFactors{
		Demographic: e.demographicScore(lead, cfg.Demographic),
	}

	factors.Engagement, err = e.engagementScore(ctx, tenantID, leadID, cfg.Engagement, now)
	if err != nil {
		return LeadScore{}, apperr.Wrap(apperr.KindInternal, "failed to compute engagement", err).WithOp(op)
	}

	factors.Behavioral, err = e.behavioralScore(ctx, tenantID, leadID, cfg.Behavioral, now)
	if err != nil {
		return LeadScore{}, apperr.Wrap(apperr.KindInternal, "failed to compute behavior", err).WithOp(op)
	}

	factors.Historical, err = e.historicalScore(ctx, lead, cfg.Historical)
	if err != nil {
		return LeadScore{}, apperr.Wrap(apperr.KindInternal, "failed to compute history", err).WithOp(op)
	}

	score, tier := formula.ScoreLead(factors, cfg.LeadWeights)

	payload, _ := json.Marshal(factors)
	if err := e.store.InsertLeadScore(ctx, tenantID, leadID, score, tier, payload); err != nil {
		return LeadScore{}, apperr.Wrap(apperr.KindInternal, "failed to persist lead score", err).WithOp(op)
	}

	e.bus.Publish(ctx, events.LeadScored{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  tenantID,
		LeadID:    leadID,
		Score:     score,
		Tier:      tier,
	})

	return LeadScore{LeadID: leadID, Score: score, Tier: tier, Factors: factors}, nil
}

// demographicScore measures fit against the tenant's target profile: budget
// position within the target range, property type and location match, and the
// best matching tag score.
func (e *Engine) demographicScore(lead leadrepo.Lead, cfg DemographicConfig) float64 {
	budget := 0.0
	if lead.BudgetMin != nil || lead.BudgetMax != nil {
		mid := midBudget(lead.BudgetMin, lead.BudgetMax)
		budget = formula.Normalize(mid, cfg.TargetBudgetMin, cfg.TargetBudgetMax)
	}

	propertyMatch := matchScore(lead.PropertyType, cfg.TargetPropertyTypes)
	locationMatch := matchScore(lead.Location, cfg.TargetLocations)

	tag := cfg.DefaultTagScore
	for _, t := range lead.Tags {
		if s, ok := cfg.TagScores[t]; ok && s > tag {
			tag = s
		}
	}

	return formula.WeightedAverage(
		[]float64{0.35, 0.25, 0.2, 0.2},
		[]float64{budget, propertyMatch, locationMatch, tag},
	)
}

// engagementScore sums decay-weighted activity points and normalizes against
// the configured target ceiling.
func (e *Engine) engagementScore(ctx context.Context, tenantID, leadID uuid.UUID, cfg EngagementConfig, now time.Time) (float64, error) {
	since := now.Add(-90 * 24 * time.Hour)
	activities, err := e.store.ListLeadActivities(ctx, tenantID, leadID, since)
	if err != nil {
		return 0, err
	}

	var points float64
	for _, a := range activities {
		weight, ok := cfg.ActivityWeights[a.Type]
		if !ok {
			weight = 1
		}
		daysAgo := now.Sub(a.CreatedAt).Hours() / 24
		points += weight * formula.TimeDecayWeight(daysAgo, cfg.HalfLifeDays)
	}

	return formula.Normalize(points, 0, cfg.Target), nil
}

// behavioralScore blends task completion, meeting adherence, and contact
// recency, then subtracts a penalty per unapproved extension request.
func (e *Engine) behavioralScore(ctx context.Context, tenantID, leadID uuid.UUID, cfg BehavioralConfig, now time.Time) (float64, error) {
	tasks, err := e.store.LeadTaskStats(ctx, tenantID, leadID)
	if err != nil {
		return 0, err
	}
	meetings, err := e.store.LeadMeetingStats(ctx, tenantID, leadID)
	if err != nil {
		return 0, err
	}
	lastContact, err := e.store.LastContactAt(ctx, tenantID, leadID)
	if err != nil {
		return 0, err
	}
	extensions, err := e.store.CountPendingExtensions(ctx, tenantID, leadID)
	if err != nil {
		return 0, err
	}

	taskScore := ratioScore(tasks.Completed, tasks.Total)
	meetingScore := ratioScore(meetings.Completed, meetings.Total)

	recency := 0.0
	if lastContact != nil {
		daysSince := now.Sub(*lastContact).Hours() / 24
		recency = 100 - formula.Normalize(daysSince, 0, cfg.RecencyHorizonDays)
	}

	blended := formula.WeightedAverage(
		[]float64{cfg.TaskWeight, cfg.MeetingWeight, cfg.RecencyWeight},
		[]float64{taskScore, meetingScore, recency},
	)
	return formula.Clamp(blended - float64(extensions)*cfg.ExtensionPenalty), nil
}

// historicalScore blends the lead source's conversion rate with the lead's own
// stage velocity relative to the typical dwell time.
func (e *Engine) historicalScore(ctx context.Context, lead leadrepo.Lead, cfg HistoricalConfig) (float64, error) {
	conversion := 50.0
	if lead.Source != nil {
		sc, err := e.store.SourceConversionRate(ctx, lead.TenantID, *lead.Source)
		if err != nil {
			return 0, err
		}
		if sc.Total > 0 {
			conversion = 100 * float64(sc.Converted) / float64(sc.Total)
		}
	}

	dwell, err := e.store.AvgStageDwellDays(ctx, lead.TenantID, lead.ID)
	if err != nil {
		return 0, err
	}
	velocity := 50.0
	if dwell > 0 {
		velocity = 100 - formula.Normalize(dwell, 0, cfg.TypicalDwellDays*2)
	}

	return formula.WeightedAverage(
		[]float64{cfg.ConversionWeight, cfg.VelocityWeight},
		[]float64{conversion, velocity},
	), nil
}

// ComputeDisciplineIndex scores a user's process discipline over a rolling
// 30-day window and persists the snapshot.
func (e *Engine) ComputeDisciplineIndex(ctx context.Context, tenantID, userID uuid.UUID) (DisciplineScore, error) {
	const op = "scoring.Engine.ComputeDisciplineIndex"
	const targetTouchesPerLead = 4.0
	const freshnessWindow = 7 * 24 * time.Hour

	cfg := e.config(ctx, tenantID)
	now := e.now()
	since := now.Add(-disciplineWindow)

	assigned, err := e.store.CountAssignedLeads(ctx, tenantID, userID)
	if err != nil {
		return DisciplineScore{}, apperr.Wrap(apperr.KindInternal, "failed to count assigned leads", err).WithOp(op)
	}
	activities, err := e.store.CountUserActivities(ctx, tenantID, userID, since)
	if err != nil {
		return DisciplineScore{}, apperr.Wrap(apperr.KindInternal, "failed to count activities", err).WithOp(op)
	}
	tasks, err := e.store.UserTaskStats(ctx, tenantID, userID, since)
	if err != nil {
		return DisciplineScore{}, apperr.Wrap(apperr.KindInternal, "failed to load task stats", err).WithOp(op)
	}
	meetings, err := e.store.UserMeetingStats(ctx, tenantID, userID, since)
	if err != nil {
		return DisciplineScore{}, apperr.Wrap(apperr.KindInternal, "failed to load meeting stats", err).WithOp(op)
	}
	firstTouch, err := e.store.AvgFirstTouchHours(ctx, tenantID, userID, since)
	if err != nil {
		return DisciplineScore{}, apperr.Wrap(apperr.KindInternal, "failed to compute first touch", err).WithOp(op)
	}
	freshFraction, err := e.store.FreshLeadFraction(ctx, tenantID, userID, now.Add(-freshnessWindow))
	if err != nil {
		return DisciplineScore{}, apperr.Wrap(apperr.KindInternal, "failed to compute freshness", err).WithOp(op)
	}

	followUp := 100.0
	if assigned > 0 {
		followUp = formula.Normalize(float64(activities), 0, float64(assigned)*targetTouchesPerLead)
	}

	timeliness := 100.0
	if firstTouch > 0 {
		timeliness = 100 - formula.Normalize(firstTouch, 0, 72)
	}

	factors := formula.DisciplineFactors{
		FollowUpFrequency:   followUp,
		MeetingAdherence:    ratioScore(meetings.Completed, meetings.Total),
		TaskCompletion:      ratioScore(tasks.Completed, tasks.Total),
		DataEntryTimeliness: timeliness,
		PipelineHygiene:     100 * freshFraction,
	}
	score := formula.ScoreDiscipline(factors, cfg.DisciplineWeights)

	payload, _ := json.Marshal(factors)
	if err := e.store.InsertDisciplineSnapshot(ctx, tenantID, userID, score, payload); err != nil {
		return DisciplineScore{}, apperr.Wrap(apperr.KindInternal, "failed to persist discipline snapshot", err).WithOp(op)
	}

	return DisciplineScore{UserID: userID, Score: score, Factors: factors}, nil
}

// ComputeDealProbability estimates close probability from the stage base rate
// with size, velocity, engagement, and competitor adjustments, bounded by the
// Wilson interval over the stage's historical win rate.
func (e *Engine) ComputeDealProbability(ctx context.Context, tenantID, dealID uuid.UUID) (DealProbability, error) {
	const op = "scoring.Engine.ComputeDealProbability"

	deal, err := e.store.GetDeal(ctx, dealID, tenantID)
	if err != nil {
		if errors.Is(err, ErrDealNotFound) {
			return DealProbability{}, apperr.NotFound("deal not found").WithOp(op)
		}
		return DealProbability{}, apperr.Wrap(apperr.KindInternal, "failed to load deal", err).WithOp(op)
	}

	cfg := e.config(ctx, tenantID)
	now := e.now()

	base, ok := cfg.StageProbability[deal.Stage]
	if !ok {
		base = 50
	}

	history, err := e.store.StageHistoryFor(ctx, tenantID, deal.Stage)
	if err != nil {
		return DealProbability{}, apperr.Wrap(apperr.KindInternal, "failed to load stage history", err).WithOp(op)
	}

	adjustments := map[string]float64{}

	// Larger-than-typical deals close less often; smaller ones more.
	if history.AvgValue > 0 && deal.Value > 0 {
		ratio := float64(deal.Value) / history.AvgValue
		adjustments["size"] = formula.ClampRange(10*(1-ratio), -10, 10)
	}

	// Deals stalled past the typical cycle lose probability.
	if history.AvgCycleDays > 0 {
		ageDays := now.Sub(deal.CreatedAt).Hours() / 24
		adjustments["velocity"] = formula.ClampRange(10*(1-ageDays/history.AvgCycleDays), -10, 10)
	}

	recentActivity, err := e.store.CountDealActivities(ctx, tenantID, dealID, now.Add(-14*24*time.Hour))
	if err != nil {
		return DealProbability{}, apperr.Wrap(apperr.KindInternal, "failed to count deal activity", err).WithOp(op)
	}
	if recentActivity > 10 {
		recentActivity = 10
	}
	adjustments["engagement"] = float64(recentActivity)

	competitor, err := e.store.HasCompetitorActivity(ctx, tenantID, dealID)
	if err != nil {
		return DealProbability{}, apperr.Wrap(apperr.KindInternal, "failed to check competitor activity", err).WithOp(op)
	}
	if competitor {
		adjustments["competitor"] = -cfg.CompetitorPenalty
	}

	probability := base
	for _, adj := range adjustments {
		probability += adj
	}
	probability = formula.Clamp(probability)

	low, high := formula.WilsonInterval(history.Wins, history.Wins+history.Losses, 0)

	factors := map[string]any{
		"base":        base,
		"adjustments": adjustments,
		"stageWins":   history.Wins,
		"stageLosses": history.Losses,
	}
	payload, _ := json.Marshal(factors)
	if err := e.store.InsertRiskScore(ctx, tenantID, dealID, probability, low, high, payload); err != nil {
		return DealProbability{}, apperr.Wrap(apperr.KindInternal, "failed to persist risk score", err).WithOp(op)
	}

	return DealProbability{DealID: dealID, Probability: probability, IntervalLow: low, IntervalHigh: high}, nil
}

func midBudget(min, max *int64) float64 {
	switch {
	case min != nil && max != nil:
		return float64(*min+*max) / 2
	case min != nil:
		return float64(*min)
	default:
		return float64(*max)
	}
}

func matchScore(value *string, targets []string) float64 {
	if value == nil || len(targets) == 0 {
		return 50
	}
	for _, t := range targets {
		if t == *value {
			return 100
		}
	}
	return 0
}

func ratioScore(part, total int) float64 {
	if total == 0 {
		return 100
	}
	return 100 * float64(part) / float64(total)
}
