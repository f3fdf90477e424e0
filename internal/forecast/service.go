package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"salesflow_backend/internal/scoring/formula"
	"salesflow_backend/platform/apperr"
	"salesflow_backend/platform/logger"
)

const (
	SnapshotRevenueForecast    = "revenue_forecast"
	SnapshotReminderPriorities = "reminder_priorities"
	SnapshotPerformanceRanking = "performance_ranking"

	reminderHorizon = 7 * 24 * time.Hour
	reminderLimit   = 25
	rankingWindow   = 30 * 24 * time.Hour

	// Fallbacks for stages with no closed-deal history yet.
	defaultCycleDays = 30.0
	defaultWinRate   = 0.5
)

// Store is the Repository surface the forecast service consumes.
type Store interface {
	ListOpenDeals(ctx context.Context, tenantID uuid.UUID) ([]OpenDeal, error)
	ListStageModels(ctx context.Context, tenantID uuid.UUID) ([]StageModel, error)
	MonthlyWonTotals(ctx context.Context, tenantID uuid.UUID) (map[time.Month]float64, error)
	ListDueReminderSources(ctx context.Context, tenantID uuid.UUID, userID *uuid.UUID, until time.Time) ([]ReminderSource, error)
	ListPerformanceRows(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]PerformanceRow, error)
	InsertRankingSnapshot(ctx context.Context, tenantID uuid.UUID, kind string, payload []byte) error
}

// ForecastBucket accumulates expected revenue for one period.
type ForecastBucket struct {
	Period   string  `json:"period"`
	Weighted float64 `json:"weighted"`
	Raw      float64 `json:"raw"`
	Deals    int     `json:"deals"`
}

// RevenueForecast is the full rollup persisted per run.
type RevenueForecast struct {
	Monthly   []ForecastBucket `json:"monthly"`
	Quarterly []ForecastBucket `json:"quarterly"`
	Annual    []ForecastBucket `json:"annual"`
}

// Reminder is one prioritized entry.
type Reminder struct {
	Kind     string    `json:"kind"`
	RefID    uuid.UUID `json:"refId"`
	LeadID   uuid.UUID `json:"leadId"`
	Title    string    `json:"title"`
	DueAt    time.Time `json:"dueAt"`
	Urgency  float64   `json:"urgency"`
	Impact   float64   `json:"impact"`
	Priority float64   `json:"priority"`
}

// RankedUser is one entry in the performance ranking, sorted descending.
type RankedUser struct {
	UserID         uuid.UUID `json:"userId"`
	Score          float64   `json:"score"`
	Revenue        float64   `json:"revenue"`
	Pipeline       float64   `json:"pipeline"`
	ConversionRate float64   `json:"conversionRate"`
	Activities     int       `json:"activities"`
	RescheduleRate float64   `json:"rescheduleRate"`
}

type Service struct {
	store Store
	log   *logger.Logger
	now   func() time.Time
}

func NewService(store Store, log *logger.Logger) *Service {
	return &Service{store: store, log: log, now: time.Now}
}

// ComputeRevenueForecast projects every open deal to an expected close month
// using its stage's historical cycle time, weights it by win rate and a
// seasonality multiplier, and persists monthly, quarterly, and annual rollups.
func (s *Service) ComputeRevenueForecast(ctx context.Context, tenantID uuid.UUID) (RevenueForecast, error) {
	const op = "forecast.Service.ComputeRevenueForecast"

	deals, err := s.store.ListOpenDeals(ctx, tenantID)
	if err != nil {
		return RevenueForecast{}, apperr.Wrap(apperr.KindInternal, "failed to list open deals", err).WithOp(op)
	}
	models, err := s.store.ListStageModels(ctx, tenantID)
	if err != nil {
		return RevenueForecast{}, apperr.Wrap(apperr.KindInternal, "failed to load stage history", err).WithOp(op)
	}
	monthly, err := s.store.MonthlyWonTotals(ctx, tenantID)
	if err != nil {
		return RevenueForecast{}, apperr.Wrap(apperr.KindInternal, "failed to load monthly totals", err).WithOp(op)
	}

	byStage := make(map[string]StageModel, len(models))
	for _, m := range models {
		byStage[m.Stage] = m
	}
	seasonality := seasonalityFactors(monthly)

	months := map[string]*ForecastBucket{}
	quarters := map[string]*ForecastBucket{}
	years := map[string]*ForecastBucket{}

	for _, deal := range deals {
		cycle := defaultCycleDays
		winRate := defaultWinRate
		if m, ok := byStage[deal.Stage]; ok {
			if m.AvgCycleDays > 0 {
				cycle = m.AvgCycleDays
			}
			if closed := m.Wins + m.Losses; closed > 0 {
				winRate = float64(m.Wins) / float64(closed)
			}
		}

		expectedClose := deal.CreatedAt.Add(time.Duration(cycle * 24 * float64(time.Hour)))
		factor := 1.0
		if f, ok := seasonality[expectedClose.Month()]; ok {
			factor = f
		}

		raw := float64(deal.Value)
		weighted := raw * winRate * factor

		addToBucket(months, expectedClose.Format("2006-01"), weighted, raw)
		addToBucket(quarters, fmt.Sprintf("%d-Q%d", expectedClose.Year(), (int(expectedClose.Month())-1)/3+1), weighted, raw)
		addToBucket(years, expectedClose.Format("2006"), weighted, raw)
	}

	forecast := RevenueForecast{
		Monthly:   sortBuckets(months),
		Quarterly: sortBuckets(quarters),
		Annual:    sortBuckets(years),
	}

	payload, _ := json.Marshal(forecast)
	if err := s.store.InsertRankingSnapshot(ctx, tenantID, SnapshotRevenueForecast, payload); err != nil {
		return RevenueForecast{}, apperr.Wrap(apperr.KindInternal, "failed to persist forecast", err).WithOp(op)
	}

	s.log.Info("revenue forecast computed", "tenant_id", tenantID, "open_deals", len(deals))
	return forecast, nil
}

// seasonalityFactors maps each calendar month with history to its share of the
// overall monthly average. Months without history get no entry (factor 1).
func seasonalityFactors(monthlyTotals map[time.Month]float64) map[time.Month]float64 {
	if len(monthlyTotals) == 0 {
		return nil
	}
	var sum float64
	for _, total := range monthlyTotals {
		sum += total
	}
	avg := sum / float64(len(monthlyTotals))
	if avg <= 0 {
		return nil
	}

	factors := make(map[time.Month]float64, len(monthlyTotals))
	for month, total := range monthlyTotals {
		factors[month] = total / avg
	}
	return factors
}

func addToBucket(buckets map[string]*ForecastBucket, period string, weighted, raw float64) {
	b, ok := buckets[period]
	if !ok {
		b = &ForecastBucket{Period: period}
		buckets[period] = b
	}
	b.Weighted += weighted
	b.Raw += raw
	b.Deals++
}

func sortBuckets(buckets map[string]*ForecastBucket) []ForecastBucket {
	out := make([]ForecastBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

// ComputeReminderPriorities merges open tasks and active deadlines due within
// the next 7 days into one ranked list, keeping the top 25. Deadlines weight
// urgency over impact more heavily than tasks do. Pass a user to scope the
// list to one assignee.
func (s *Service) ComputeReminderPriorities(ctx context.Context, tenantID uuid.UUID, userID *uuid.UUID) ([]Reminder, error) {
	const op = "forecast.Service.ComputeReminderPriorities"

	now := s.now()
	sources, err := s.store.ListDueReminderSources(ctx, tenantID, userID, now.Add(reminderHorizon))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list reminder sources", err).WithOp(op)
	}

	reminders := make([]Reminder, 0, len(sources))
	for _, src := range sources {
		hoursToDue := src.DueAt.Sub(now).Hours()
		urgency := 100 - formula.Normalize(hoursToDue, 0, reminderHorizon.Hours())
		impact := formula.Normalize(float64(src.DealValue), 0, 2_000_000)

		urgencyWeight, impactWeight := 0.6, 0.4
		if src.Kind == "deadline" {
			urgencyWeight, impactWeight = 0.7, 0.3
		}

		reminders = append(reminders, Reminder{
			Kind:     src.Kind,
			RefID:    src.RefID,
			LeadID:   src.LeadID,
			Title:    src.Title,
			DueAt:    src.DueAt,
			Urgency:  urgency,
			Impact:   impact,
			Priority: urgencyWeight*urgency + impactWeight*impact,
		})
	}

	sort.Slice(reminders, func(i, j int) bool { return reminders[i].Priority > reminders[j].Priority })
	if len(reminders) > reminderLimit {
		reminders = reminders[:reminderLimit]
	}

	payload, _ := json.Marshal(reminders)
	if err := s.store.InsertRankingSnapshot(ctx, tenantID, SnapshotReminderPriorities, payload); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to persist reminders", err).WithOp(op)
	}

	return reminders, nil
}

// ComputePerformanceRanking scores each active sales user over a trailing
// 30-day window. Each metric is normalized against the cohort's best value so
// the ranking is relative, and a low reschedule rate scores higher.
func (s *Service) ComputePerformanceRanking(ctx context.Context, tenantID uuid.UUID) ([]RankedUser, error) {
	const op = "forecast.Service.ComputePerformanceRanking"

	rows, err := s.store.ListPerformanceRows(ctx, tenantID, s.now().Add(-rankingWindow))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load performance rows", err).WithOp(op)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var maxRevenue, maxPipeline, maxActivities float64
	for _, r := range rows {
		maxRevenue = max(maxRevenue, r.Revenue)
		maxPipeline = max(maxPipeline, r.Pipeline)
		maxActivities = max(maxActivities, float64(r.Activities))
	}

	ranked := make([]RankedUser, 0, len(rows))
	for _, r := range rows {
		conversion := 0.0
		if closed := r.Wins + r.Losses; closed > 0 {
			conversion = float64(r.Wins) / float64(closed)
		}
		reschedule := 0.0
		if r.MeetingsTotal > 0 {
			reschedule = float64(r.MeetingsRescheduled) / float64(r.MeetingsTotal)
		}

		score := formula.WeightedAverage(
			[]float64{0.35, 0.2, 0.2, 0.15, 0.1},
			[]float64{
				relative(r.Revenue, maxRevenue),
				relative(r.Pipeline, maxPipeline),
				100 * conversion,
				relative(float64(r.Activities), maxActivities),
				100 * (1 - reschedule),
			},
		)

		ranked = append(ranked, RankedUser{
			UserID:         r.UserID,
			Score:          score,
			Revenue:        r.Revenue,
			Pipeline:       r.Pipeline,
			ConversionRate: conversion,
			Activities:     r.Activities,
			RescheduleRate: reschedule,
		})
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	payload, _ := json.Marshal(ranked)
	if err := s.store.InsertRankingSnapshot(ctx, tenantID, SnapshotPerformanceRanking, payload); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to persist ranking", err).WithOp(op)
	}

	return ranked, nil
}

func relative(v, best float64) float64 {
	if best <= 0 {
		return 0
	}
	return 100 * v / best
}
