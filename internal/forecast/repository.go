package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// OpenDeal is an open pipeline deal awaiting projection.
type OpenDeal struct {
	ID        uuid.UUID
	Stage     string
	Value     int64
	CreatedAt time.Time
}

// StageModel holds the per-stage historical aggregates the forecast is
// conditioned on.
type StageModel struct {
	Stage        string
	AvgValue     float64
	AvgCycleDays float64
	Wins         int
	Losses       int
}

// ReminderSource is an open task or active deadline due soon, joined to the
// value of the deal it protects (zero when the lead has no open deal).
type ReminderSource struct {
	Kind      string // "task" or "deadline"
	RefID     uuid.UUID
	LeadID    uuid.UUID
	Title     string
	DueAt     time.Time
	DealValue int64
}

// PerformanceRow is the raw per-user aggregate feeding the ranking.
type PerformanceRow struct {
	UserID              uuid.UUID
	Revenue             float64
	Pipeline            float64
	Wins                int
	Losses              int
	Activities          int
	MeetingsTotal       int
	MeetingsRescheduled int
}

func (r *Repository) ListOpenDeals(ctx context.Context, tenantID uuid.UUID) ([]OpenDeal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, stage, value, created_at
		FROM deals
		WHERE tenant_id = $1 AND status = 'open'
		ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list open deals: %w", err)
	}
	defer rows.Close()

	var out []OpenDeal
	for rows.Next() {
		var d OpenDeal
		if err := rows.Scan(&d.ID, &d.Stage, &d.Value, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan open deal: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repository) ListStageModels(ctx context.Context, tenantID uuid.UUID) ([]StageModel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT stage,
		       COALESCE(AVG(value), 0)::DOUBLE PRECISION,
		       COALESCE(AVG(EXTRACT(EPOCH FROM (closed_at - created_at)) / 86400.0), 0),
		       COUNT(*) FILTER (WHERE status = 'won'),
		       COUNT(*) FILTER (WHERE status = 'lost')
		FROM deals
		WHERE tenant_id = $1 AND closed_at IS NOT NULL
		GROUP BY stage`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list stage models: %w", err)
	}
	defer rows.Close()

	var out []StageModel
	for rows.Next() {
		var m StageModel
		if err := rows.Scan(&m.Stage, &m.AvgValue, &m.AvgCycleDays, &m.Wins, &m.Losses); err != nil {
			return nil, fmt.Errorf("scan stage model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MonthlyWonTotals returns won deal value grouped by calendar close month.
func (r *Repository) MonthlyWonTotals(ctx context.Context, tenantID uuid.UUID) (map[time.Month]float64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT EXTRACT(MONTH FROM closed_at)::INT, SUM(value)::DOUBLE PRECISION
		FROM deals
		WHERE tenant_id = $1 AND status = 'won' AND closed_at IS NOT NULL
		GROUP BY 1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("monthly won totals: %w", err)
	}
	defer rows.Close()

	out := make(map[time.Month]float64)
	for rows.Next() {
		var month int
		var total float64
		if err := rows.Scan(&month, &total); err != nil {
			return nil, fmt.Errorf("scan monthly total: %w", err)
		}
		out[time.Month(month)] = total
	}
	return out, rows.Err()
}

// ListDueReminderSources merges open tasks and active deadlines due inside the
// horizon. Deal value comes from the newest open deal on the same lead.
func (r *Repository) ListDueReminderSources(ctx context.Context, tenantID uuid.UUID, userID *uuid.UUID, until time.Time) ([]ReminderSource, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT kind, ref_id, lead_id, title, due_at, COALESCE(deal_value, 0)
		FROM (
			SELECT 'task' AS kind, t.id AS ref_id, t.lead_id, t.title, t.due_at, t.assignee_id AS owner_id,
			       (SELECT d.value FROM deals d
			        WHERE d.lead_id = t.lead_id AND d.status = 'open'
			        ORDER BY d.created_at DESC LIMIT 1) AS deal_value
			FROM tasks t
			WHERE t.tenant_id = $1 AND t.status = 'open' AND t.due_at IS NOT NULL AND t.due_at <= $2

			UNION ALL

			SELECT 'deadline', dl.id, dl.lead_id, 'stage deadline', dl.due_at, l.assigned_user_id,
			       (SELECT d.value FROM deals d
			        WHERE d.lead_id = dl.lead_id AND d.status = 'open'
			        ORDER BY d.created_at DESC LIMIT 1)
			FROM deadlines dl
			JOIN leads l ON l.id = dl.lead_id
			WHERE dl.tenant_id = $1 AND dl.status = 'active' AND dl.due_at <= $2
		) sources
		WHERE $3::UUID IS NULL OR owner_id = $3
		ORDER BY due_at`, tenantID, until, userID)
	if err != nil {
		return nil, fmt.Errorf("list reminder sources: %w", err)
	}
	defer rows.Close()

	var out []ReminderSource
	for rows.Next() {
		var s ReminderSource
		if err := rows.Scan(&s.Kind, &s.RefID, &s.LeadID, &s.Title, &s.DueAt, &s.DealValue); err != nil {
			return nil, fmt.Errorf("scan reminder source: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListPerformanceRows aggregates per-user sales output since the window start.
// Deals are attributed to the lead's current assignee.
func (r *Repository) ListPerformanceRows(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]PerformanceRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.id,
		       COALESCE(won.revenue, 0),
		       COALESCE(open.pipeline, 0),
		       COALESCE(won.wins, 0),
		       COALESCE(lost.losses, 0),
		       COALESCE(act.activities, 0),
		       COALESCE(mtg.total, 0),
		       COALESCE(mtg.rescheduled, 0)
		FROM users u
		LEFT JOIN (
			SELECT l.assigned_user_id AS user_id, SUM(d.value)::DOUBLE PRECISION AS revenue, COUNT(*) AS wins
			FROM deals d JOIN leads l ON l.id = d.lead_id
			WHERE d.tenant_id = $1 AND d.status = 'won' AND d.closed_at >= $2
			GROUP BY 1
		) won ON won.user_id = u.id
		LEFT JOIN (
			SELECT l.assigned_user_id AS user_id, COUNT(*) AS losses
			FROM deals d JOIN leads l ON l.id = d.lead_id
			WHERE d.tenant_id = $1 AND d.status = 'lost' AND d.closed_at >= $2
			GROUP BY 1
		) lost ON lost.user_id = u.id
		LEFT JOIN (
			SELECT l.assigned_user_id AS user_id, SUM(d.value)::DOUBLE PRECISION AS pipeline
			FROM deals d JOIN leads l ON l.id = d.lead_id
			WHERE d.tenant_id = $1 AND d.status = 'open'
			GROUP BY 1
		) open ON open.user_id = u.id
		LEFT JOIN (
			SELECT user_id, COUNT(*) AS activities
			FROM activities
			WHERE tenant_id = $1 AND activity_type IN ('call', 'meeting') AND created_at >= $2
			GROUP BY 1
		) act ON act.user_id = u.id
		LEFT JOIN (
			SELECT organizer_id AS user_id,
			       COUNT(*) AS total,
			       COUNT(*) FILTER (WHERE status = 'rescheduled') AS rescheduled
			FROM meetings
			WHERE tenant_id = $1 AND created_at >= $2
			GROUP BY 1
		) mtg ON mtg.user_id = u.id
		WHERE u.tenant_id = $1 AND u.role = 'sales' AND u.status = 'active'`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("list performance rows: %w", err)
	}
	defer rows.Close()

	var out []PerformanceRow
	for rows.Next() {
		var p PerformanceRow
		if err := rows.Scan(&p.UserID, &p.Revenue, &p.Pipeline, &p.Wins, &p.Losses,
			&p.Activities, &p.MeetingsTotal, &p.MeetingsRescheduled); err != nil {
			return nil, fmt.Errorf("scan performance row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) InsertRankingSnapshot(ctx context.Context, tenantID uuid.UUID, kind string, payload []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ranking_snapshots (tenant_id, kind, payload)
		VALUES ($1, $2, $3)`, tenantID, kind, payload)
	if err != nil {
		return fmt.Errorf("insert ranking snapshot: %w", err)
	}
	return nil
}
