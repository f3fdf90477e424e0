package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrDealNotFound = errors.New("deal not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Activity is a single timestamped touch on a lead or deal.
type Activity struct {
	Type      string
	UserID    *uuid.UUID
	CreatedAt time.Time
}

// TaskStats aggregates task counts over a window.
type TaskStats struct {
	Total     int
	Completed int
}

// MeetingStats aggregates meeting outcomes over a window.
type MeetingStats struct {
	Total       int
	Completed   int
	Rescheduled int
}

// SourceConversion counts closed-won outcomes among leads sharing a source.
type SourceConversion struct {
	Total     int
	Converted int
}

// Deal is the scoring view of a deal row.
type Deal struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	LeadID    *uuid.UUID
	Stage     string
	Value     int64
	Status    string
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// StageHistory summarizes closed deals that passed through a stage.
type StageHistory struct {
	AvgValue     float64
	AvgCycleDays float64
	Wins         int
	Losses       int
}

func (r *Repository) GetDeal(ctx context.Context, id, tenantID uuid.UUID) (Deal, error) {
	var d Deal
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, lead_id, stage, value, status, created_at, closed_at
		FROM deals
		WHERE id = $1 AND tenant_id = $2`, id, tenantID).
		Scan(&d.ID, &d.TenantID, &d.LeadID, &d.Stage, &d.Value, &d.Status, &d.CreatedAt, &d.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrDealNotFound
		}
		return Deal{}, fmt.Errorf("get deal: %w", err)
	}
	return d, nil
}

func (r *Repository) ListLeadActivities(ctx context.Context, tenantID, leadID uuid.UUID, since time.Time) ([]Activity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT activity_type, user_id, created_at
		FROM activities
		WHERE tenant_id = $1 AND lead_id = $2 AND created_at >= $3
		ORDER BY created_at DESC`, tenantID, leadID, since)
	if err != nil {
		return nil, fmt.Errorf("list lead activities: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.Type, &a.UserID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) CountDealActivities(ctx context.Context, tenantID, dealID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM activities
		WHERE tenant_id = $1 AND deal_id = $2 AND created_at >= $3`, tenantID, dealID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count deal activities: %w", err)
	}
	return n, nil
}

func (r *Repository) LeadTaskStats(ctx context.Context, tenantID, leadID uuid.UUID) (TaskStats, error) {
	var s TaskStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'completed')
		FROM tasks
		WHERE tenant_id = $1 AND lead_id = $2`, tenantID, leadID).Scan(&s.Total, &s.Completed)
	if err != nil {
		return TaskStats{}, fmt.Errorf("lead task stats: %w", err)
	}
	return s, nil
}

func (r *Repository) LeadMeetingStats(ctx context.Context, tenantID, leadID uuid.UUID) (MeetingStats, error) {
	var s MeetingStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'rescheduled')
		FROM meetings
		WHERE tenant_id = $1 AND lead_id = $2`, tenantID, leadID).Scan(&s.Total, &s.Completed, &s.Rescheduled)
	if err != nil {
		return MeetingStats{}, fmt.Errorf("lead meeting stats: %w", err)
	}
	return s, nil
}

// LastContactAt returns the most recent call or meeting activity on the lead,
// nil when the lead has never been contacted.
func (r *Repository) LastContactAt(ctx context.Context, tenantID, leadID uuid.UUID) (*time.Time, error) {
	var ts *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT MAX(created_at) FROM activities
		WHERE tenant_id = $1 AND lead_id = $2 AND activity_type IN ('call', 'meeting', 'site_visit')`,
		tenantID, leadID).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("last contact: %w", err)
	}
	return ts, nil
}

func (r *Repository) CountPendingExtensions(ctx context.Context, tenantID, leadID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM extension_requests
		WHERE tenant_id = $1 AND lead_id = $2 AND status <> 'approved'`, tenantID, leadID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending extensions: %w", err)
	}
	return n, nil
}

// SourceConversionRate counts terminal leads sharing the given source.
func (r *Repository) SourceConversionRate(ctx context.Context, tenantID uuid.UUID, source string) (SourceConversion, error) {
	var s SourceConversion
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'closed')
		FROM leads
		WHERE tenant_id = $1 AND source = $2 AND status IN ('closed', 'failed')`,
		tenantID, source).Scan(&s.Total, &s.Converted)
	if err != nil {
		return SourceConversion{}, fmt.Errorf("source conversion: %w", err)
	}
	return s, nil
}

// AvgStageDwellDays returns the lead's average days spent per stage, derived
// from consecutive state history rows. Zero when there is no history yet.
func (r *Repository) AvgStageDwellDays(ctx context.Context, tenantID, leadID uuid.UUID) (float64, error) {
	var days *float64
	err := r.pool.QueryRow(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (next_at - created_at)) / 86400.0)
		FROM (
			SELECT created_at,
			       LEAD(created_at) OVER (ORDER BY created_at) AS next_at
			FROM state_history
			WHERE tenant_id = $1 AND lead_id = $2 AND undone_at IS NULL
		) spans
		WHERE next_at IS NOT NULL`, tenantID, leadID).Scan(&days)
	if err != nil {
		return 0, fmt.Errorf("avg stage dwell: %w", err)
	}
	if days == nil {
		return 0, nil
	}
	return *days, nil
}

// StageHistoryFor summarizes closed deals that were in the given stage when
// they closed. Used both for sizing adjustments and the Wilson interval.
func (r *Repository) StageHistoryFor(ctx context.Context, tenantID uuid.UUID, stage string) (StageHistory, error) {
	var h StageHistory
	var avgValue, avgCycle *float64
	err := r.pool.QueryRow(ctx, `
		SELECT AVG(value)::DOUBLE PRECISION,
		       AVG(EXTRACT(EPOCH FROM (closed_at - created_at)) / 86400.0),
		       COUNT(*) FILTER (WHERE status = 'won'),
		       COUNT(*) FILTER (WHERE status = 'lost')
		FROM deals
		WHERE tenant_id = $1 AND stage = $2 AND closed_at IS NOT NULL`,
		tenantID, stage).Scan(&avgValue, &avgCycle, &h.Wins, &h.Losses)
	if err != nil {
		return StageHistory{}, fmt.Errorf("stage history: %w", err)
	}
	if avgValue != nil {
		h.AvgValue = *avgValue
	}
	if avgCycle != nil {
		h.AvgCycleDays = *avgCycle
	}
	return h, nil
}

func (r *Repository) HasCompetitorActivity(ctx context.Context, tenantID, dealID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM activities
			WHERE tenant_id = $1 AND deal_id = $2 AND activity_type = 'competitor_mention'
		)`, tenantID, dealID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("competitor activity: %w", err)
	}
	return exists, nil
}

// Per-user discipline reads, all windowed by since.

func (r *Repository) CountAssignedLeads(ctx context.Context, tenantID, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM leads
		WHERE tenant_id = $1 AND assigned_user_id = $2 AND status NOT IN ('closed', 'failed')
		      AND deleted_at IS NULL`, tenantID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count assigned leads: %w", err)
	}
	return n, nil
}

func (r *Repository) CountUserActivities(ctx context.Context, tenantID, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM activities
		WHERE tenant_id = $1 AND user_id = $2 AND created_at >= $3`, tenantID, userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count user activities: %w", err)
	}
	return n, nil
}

func (r *Repository) UserTaskStats(ctx context.Context, tenantID, userID uuid.UUID, since time.Time) (TaskStats, error) {
	var s TaskStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'completed')
		FROM tasks
		WHERE tenant_id = $1 AND assignee_id = $2 AND created_at >= $3`,
		tenantID, userID, since).Scan(&s.Total, &s.Completed)
	if err != nil {
		return TaskStats{}, fmt.Errorf("user task stats: %w", err)
	}
	return s, nil
}

func (r *Repository) UserMeetingStats(ctx context.Context, tenantID, userID uuid.UUID, since time.Time) (MeetingStats, error) {
	var s MeetingStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'rescheduled')
		FROM meetings
		WHERE tenant_id = $1 AND organizer_id = $2 AND created_at >= $3`,
		tenantID, userID, since).Scan(&s.Total, &s.Completed, &s.Rescheduled)
	if err != nil {
		return MeetingStats{}, fmt.Errorf("user meeting stats: %w", err)
	}
	return s, nil
}

// AvgFirstTouchHours returns the average hours between lead creation and the
// user's first activity on it, over leads assigned since the window start.
func (r *Repository) AvgFirstTouchHours(ctx context.Context, tenantID, userID uuid.UUID, since time.Time) (float64, error) {
	var hours *float64
	err := r.pool.QueryRow(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (first_touch - l.created_at)) / 3600.0)
		FROM leads l
		JOIN LATERAL (
			SELECT MIN(a.created_at) AS first_touch
			FROM activities a
			WHERE a.lead_id = l.id AND a.user_id = $2
		) t ON t.first_touch IS NOT NULL
		WHERE l.tenant_id = $1 AND l.assigned_user_id = $2 AND l.created_at >= $3`,
		tenantID, userID, since).Scan(&hours)
	if err != nil {
		return 0, fmt.Errorf("avg first touch: %w", err)
	}
	if hours == nil {
		return 0, nil
	}
	return *hours, nil
}

// FreshLeadFraction returns the fraction of the user's open leads touched
// within the freshness window.
func (r *Repository) FreshLeadFraction(ctx context.Context, tenantID, userID uuid.UUID, freshSince time.Time) (float64, error) {
	var total, fresh int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE EXISTS (
		           SELECT 1 FROM activities a
		           WHERE a.lead_id = l.id AND a.created_at >= $3
		       ))
		FROM leads l
		WHERE l.tenant_id = $1 AND l.assigned_user_id = $2
		      AND l.status NOT IN ('closed', 'failed') AND l.deleted_at IS NULL`,
		tenantID, userID, freshSince).Scan(&total, &fresh)
	if err != nil {
		return 0, fmt.Errorf("fresh lead fraction: %w", err)
	}
	if total == 0 {
		return 1, nil
	}
	return float64(fresh) / float64(total), nil
}

// Snapshot writes. All append-only.

func (r *Repository) InsertLeadScore(ctx context.Context, tenantID, leadID uuid.UUID, score float64, tier string, factors []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO lead_scores (tenant_id, lead_id, score, tier, factors)
		VALUES ($1, $2, $3, $4, $5)`, tenantID, leadID, score, tier, factors)
	if err != nil {
		return fmt.Errorf("insert lead score: %w", err)
	}
	return nil
}

func (r *Repository) InsertDisciplineSnapshot(ctx context.Context, tenantID, userID uuid.UUID, score float64, factors []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO discipline_snapshots (tenant_id, user_id, score, factors)
		VALUES ($1, $2, $3, $4)`, tenantID, userID, score, factors)
	if err != nil {
		return fmt.Errorf("insert discipline snapshot: %w", err)
	}
	return nil
}

func (r *Repository) InsertRiskScore(ctx context.Context, tenantID, dealID uuid.UUID, probability, low, high float64, factors []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO risk_scores (tenant_id, deal_id, probability, interval_low, interval_high, factors)
		VALUES ($1, $2, $3, $4, $5, $6)`, tenantID, dealID, probability, low, high, factors)
	if err != nil {
		return fmt.Errorf("insert risk score: %w", err)
	}
	return nil
}
