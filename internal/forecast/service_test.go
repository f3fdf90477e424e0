package forecast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"salesflow_backend/platform/logger"
)

type fakeStore struct {
	openDeals     []OpenDeal
	stageModels   []StageModel
	monthlyTotals map[time.Month]float64
	reminders     []ReminderSource
	performance   []PerformanceRow

	snapshots map[string][]byte
}

func (f *fakeStore) ListOpenDeals(_ context.Context, _ uuid.UUID) ([]OpenDeal, error) {
	return f.openDeals, nil
}
func (f *fakeStore) ListStageModels(_ context.Context, _ uuid.UUID) ([]StageModel, error) {
	return f.stageModels, nil
}
func (f *fakeStore) MonthlyWonTotals(_ context.Context, _ uuid.UUID) (map[time.Month]float64, error) {
	return f.monthlyTotals, nil
}
func (f *fakeStore) ListDueReminderSources(_ context.Context, _ uuid.UUID, _ *uuid.UUID, _ time.Time) ([]ReminderSource, error) {
	return f.reminders, nil
}
func (f *fakeStore) ListPerformanceRows(_ context.Context, _ uuid.UUID, _ time.Time) ([]PerformanceRow, error) {
	return f.performance, nil
}
func (f *fakeStore) InsertRankingSnapshot(_ context.Context, _ uuid.UUID, kind string, payload []byte) error {
	if f.snapshots == nil {
		f.snapshots = map[string][]byte{}
	}
	f.snapshots[kind] = payload
	return nil
}

func newTestService(store *fakeStore, now time.Time) *Service {
	svc := NewService(store, logger.New("test"))
	svc.now = func() time.Time { return now }
	return svc
}

func TestComputeRevenueForecastBucketsAndWeights(t *testing.T) {
	created := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		openDeals: []OpenDeal{
			{ID: uuid.New(), Stage: "negotiation", Value: 100_000, CreatedAt: created},
		},
		stageModels: []StageModel{
			// 10-day cycle, 50% win rate: expected close stays in March.
			{Stage: "negotiation", AvgCycleDays: 10, Wins: 5, Losses: 5},
		},
		monthlyTotals: map[time.Month]float64{
			time.March: 200_000,
			time.April: 100_000,
		},
	}
	svc := newTestService(store, created)

	forecast, err := svc.ComputeRevenueForecast(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ComputeRevenueForecast failed: %v", err)
	}

	if len(forecast.Monthly) != 1 {
		t.Fatalf("expected 1 monthly bucket, got %d", len(forecast.Monthly))
	}
	bucket := forecast.Monthly[0]
	if bucket.Period != "2026-03" {
		t.Fatalf("expected bucket 2026-03, got %s", bucket.Period)
	}
	if bucket.Raw != 100_000 {
		t.Fatalf("expected raw 100000, got %f", bucket.Raw)
	}
	// March factor = 200k / avg(150k) = 4/3; weighted = 100k * 0.5 * 4/3.
	want := 100_000 * 0.5 * (200_000.0 / 150_000.0)
	if diff := bucket.Weighted - want; diff > 0.01 || diff < -0.01 {
		t.Fatalf("expected weighted %f, got %f", want, bucket.Weighted)
	}

	if len(forecast.Quarterly) != 1 || forecast.Quarterly[0].Period != "2026-Q1" {
		t.Fatalf("unexpected quarterly buckets: %+v", forecast.Quarterly)
	}
	if len(forecast.Annual) != 1 || forecast.Annual[0].Period != "2026" {
		t.Fatalf("unexpected annual buckets: %+v", forecast.Annual)
	}
	if _, ok := store.snapshots[SnapshotRevenueForecast]; !ok {
		t.Fatal("expected a revenue_forecast snapshot")
	}
}

func TestComputeRevenueForecastNoHistoryDefaults(t *testing.T) {
	created := time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		openDeals: []OpenDeal{
			{ID: uuid.New(), Stage: "proposal", Value: 50_000, CreatedAt: created},
		},
	}
	svc := newTestService(store, created)

	forecast, err := svc.ComputeRevenueForecast(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ComputeRevenueForecast failed: %v", err)
	}

	// Default 30-day cycle lands in July; default win rate 0.5, seasonality 1.
	if forecast.Monthly[0].Period != "2026-07" {
		t.Fatalf("expected default cycle to land in 2026-07, got %s", forecast.Monthly[0].Period)
	}
	if forecast.Monthly[0].Weighted != 25_000 {
		t.Fatalf("expected weighted 25000, got %f", forecast.Monthly[0].Weighted)
	}
}

func TestComputeReminderPrioritiesOrderingAndWeights(t *testing.T) {
	now := time.Now()
	leadID := uuid.New()
	store := &fakeStore{
		reminders: []ReminderSource{
			// Task due in 6 days on a big deal.
			{Kind: "task", RefID: uuid.New(), LeadID: leadID, Title: "send proposal",
				DueAt: now.Add(6 * 24 * time.Hour), DealValue: 1_500_000},
			// Deadline due in 2 hours on a small deal: urgency dominates.
			{Kind: "deadline", RefID: uuid.New(), LeadID: leadID, Title: "stage deadline",
				DueAt: now.Add(2 * time.Hour), DealValue: 10_000},
		},
	}
	svc := newTestService(store, now)

	reminders, err := svc.ComputeReminderPriorities(context.Background(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("ComputeReminderPriorities failed: %v", err)
	}
	if len(reminders) != 2 {
		t.Fatalf("expected 2 reminders, got %d", len(reminders))
	}
	if reminders[0].Kind != "deadline" {
		t.Fatalf("expected the imminent deadline to rank first, got %s", reminders[0].Kind)
	}
	if reminders[0].Urgency <= reminders[1].Urgency {
		t.Fatalf("expected deadline urgency %f to exceed task urgency %f",
			reminders[0].Urgency, reminders[1].Urgency)
	}
}

func TestComputeReminderPrioritiesCapsAtTopEntries(t *testing.T) {
	now := time.Now()
	store := &fakeStore{}
	for i := 0; i < 40; i++ {
		store.reminders = append(store.reminders, ReminderSource{
			Kind:  "task",
			RefID: uuid.New(),
			DueAt: now.Add(time.Duration(i+1) * time.Hour),
		})
	}
	svc := newTestService(store, now)

	reminders, err := svc.ComputeReminderPriorities(context.Background(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("ComputeReminderPriorities failed: %v", err)
	}
	if len(reminders) != reminderLimit {
		t.Fatalf("expected %d reminders, got %d", reminderLimit, len(reminders))
	}

	var persisted []Reminder
	if err := json.Unmarshal(store.snapshots[SnapshotReminderPriorities], &persisted); err != nil {
		t.Fatalf("snapshot payload invalid: %v", err)
	}
	if len(persisted) != reminderLimit {
		t.Fatalf("expected %d persisted reminders, got %d", reminderLimit, len(persisted))
	}
}

func TestComputePerformanceRankingSortsAndRewardsLowReschedule(t *testing.T) {
	strong := uuid.New()
	weak := uuid.New()
	store := &fakeStore{
		performance: []PerformanceRow{
			{UserID: weak, Revenue: 100_000, Pipeline: 200_000, Wins: 1, Losses: 3,
				Activities: 10, MeetingsTotal: 10, MeetingsRescheduled: 8},
			{UserID: strong, Revenue: 500_000, Pipeline: 800_000, Wins: 4, Losses: 1,
				Activities: 40, MeetingsTotal: 10, MeetingsRescheduled: 0},
		},
	}
	svc := newTestService(store, time.Now())

	ranked, err := svc.ComputePerformanceRanking(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ComputePerformanceRanking failed: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 ranked users, got %d", len(ranked))
	}
	if ranked[0].UserID != strong {
		t.Fatal("expected the stronger performer to rank first")
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Fatalf("expected descending scores, got %f then %f", ranked[0].Score, ranked[1].Score)
	}
	if ranked[1].RescheduleRate != 0.8 {
		t.Fatalf("expected reschedule rate 0.8, got %f", ranked[1].RescheduleRate)
	}
}

func TestComputePerformanceRankingEmptyCohort(t *testing.T) {
	svc := newTestService(&fakeStore{}, time.Now())

	ranked, err := svc.ComputePerformanceRanking(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ComputePerformanceRanking failed: %v", err)
	}
	if ranked != nil {
		t.Fatalf("expected nil ranking, got %v", ranked)
	}
}
