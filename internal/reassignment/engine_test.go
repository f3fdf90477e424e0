package reassignment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"salesflow_backend/internal/events"
	"salesflow_backend/internal/leads/domain"
	"salesflow_backend/internal/leads/repository"
	"salesflow_backend/platform/apperr"
	"salesflow_backend/platform/logger"
)

type fakeRuleStore struct {
	rule    Rule
	ruleErr error
	members []Member

	applied []ApplyParams
}

func (f *fakeRuleStore) GetActiveRule(_ context.Context, _ uuid.UUID, _ string) (Rule, error) {
	return f.rule, f.ruleErr
}

func (f *fakeRuleStore) ListPoolMembers(_ context.Context, _ uuid.UUID) ([]Member, error) {
	return f.members, nil
}

func (f *fakeRuleStore) Apply(_ context.Context, p ApplyParams) (Event, error) {
	f.applied = append(f.applied, p)
	return Event{
		ID:         uuid.New(),
		TenantID:   p.TenantID,
		LeadID:     p.LeadID,
		RuleID:     p.RuleID,
		FromUserID: p.FromUserID,
		ToUserID:   p.ToUserID,
		CreatedAt:  time.Now(),
	}, nil
}

type fakeLeadStore struct {
	lead         repository.Lead
	leadErr      error
	lastAssigned map[uuid.UUID]time.Time
}

func (f *fakeLeadStore) GetByID(_ context.Context, _, _ uuid.UUID) (repository.Lead, error) {
	return f.lead, f.leadErr
}

func (f *fakeLeadStore) LastAssignedAt(_ context.Context, _ uuid.UUID, _ []uuid.UUID) (map[uuid.UUID]time.Time, error) {
	return f.lastAssigned, nil
}

type recordingBus struct {
	published []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.published = append(b.published, e)
}

func (b *recordingBus) PublishSync(_ context.Context, e events.Event) error {
	b.published = append(b.published, e)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func member(weight int) Member {
	return Member{ID: uuid.New(), UserID: uuid.New(), Weight: weight}
}

func TestEvaluateAndReassignNoRuleIsNoOp(t *testing.T) {
	engine := NewEngine(&fakeRuleStore{ruleErr: ErrNoRule}, &fakeLeadStore{}, &recordingBus{}, logger.New("test"), nil)

	event, err := engine.EvaluateAndReassign(context.Background(), uuid.New(), uuid.New(), "lead.deadline.overdue")
	if err != nil {
		t.Fatalf("EvaluateAndReassign failed: %v", err)
	}
	if event != nil {
		t.Fatalf("expected no event, got %+v", event)
	}
}

func TestEvaluateAndReassignEmptyPoolIsNoOp(t *testing.T) {
	rules := &fakeRuleStore{rule: Rule{ID: uuid.New(), PoolID: uuid.New(), Active: true}}
	engine := NewEngine(rules, &fakeLeadStore{}, &recordingBus{}, logger.New("test"), nil)

	event, err := engine.EvaluateAndReassign(context.Background(), uuid.New(), uuid.New(), "lead.deadline.overdue")
	if err != nil {
		t.Fatalf("EvaluateAndReassign failed: %v", err)
	}
	if event != nil {
		t.Fatalf("expected no event, got %+v", event)
	}
	if len(rules.applied) != 0 {
		t.Fatal("expected no assignment writes")
	}
}

func TestEvaluateAndReassignSkipsTerminalLead(t *testing.T) {
	rules := &fakeRuleStore{
		rule:    Rule{ID: uuid.New(), PoolID: uuid.New(), Active: true},
		members: []Member{member(5)},
	}
	leads := &fakeLeadStore{lead: repository.Lead{ID: uuid.New(), Status: domain.StatusFailed}}
	bus := &recordingBus{}
	engine := NewEngine(rules, leads, bus, logger.New("test"), nil)

	event, err := engine.EvaluateAndReassign(context.Background(), uuid.New(), leads.lead.ID, "lead.deadline.overdue")
	if err != nil {
		t.Fatalf("EvaluateAndReassign failed: %v", err)
	}
	if event != nil {
		t.Fatalf("expected no event for a terminal lead, got %+v", event)
	}
	if len(rules.applied) != 0 {
		t.Fatal("expected no assignment writes for a terminal lead")
	}
	if len(bus.published) != 0 {
		t.Fatal("expected no reassignment event for a terminal lead")
	}
}

func TestEvaluateAndReassignHighestWeightWins(t *testing.T) {
	light := member(1)
	heavy := member(5)
	rules := &fakeRuleStore{
		rule:    Rule{ID: uuid.New(), PoolID: uuid.New(), Active: true},
		members: []Member{light, heavy},
	}
	previous := uuid.New()
	leads := &fakeLeadStore{lead: repository.Lead{ID: uuid.New(), AssignedUserID: &previous}}
	bus := &recordingBus{}
	engine := NewEngine(rules, leads, bus, logger.New("test"), nil)

	event, err := engine.EvaluateAndReassign(context.Background(), uuid.New(), leads.lead.ID, "lead.deadline.overdue")
	if err != nil {
		t.Fatalf("EvaluateAndReassign failed: %v", err)
	}
	if event == nil {
		t.Fatal("expected a reassignment event")
	}
	if event.ToUserID != heavy.UserID {
		t.Fatalf("expected the heaviest member %s, got %s", heavy.UserID, event.ToUserID)
	}
	if event.FromUserID == nil || *event.FromUserID != previous {
		t.Fatal("expected the previous assignee recorded")
	}

	if len(bus.published) != 1 {
		t.Fatalf("expected 1 event, got %d", len(bus.published))
	}
	reassigned, ok := bus.published[0].(events.LeadReassigned)
	if !ok {
		t.Fatalf("expected LeadReassigned, got %T", bus.published[0])
	}
	if reassigned.ToUserID != heavy.UserID {
		t.Fatal("published event does not match the winner")
	}
}

func TestEvaluateAndReassignTieBreaksByLeastRecentlyAssigned(t *testing.T) {
	first := member(5)
	second := member(5)
	third := member(5)
	rules := &fakeRuleStore{
		rule:    Rule{ID: uuid.New(), PoolID: uuid.New(), Active: true},
		members: []Member{first, second, third},
	}
	now := time.Now()
	leads := &fakeLeadStore{
		lead: repository.Lead{ID: uuid.New()},
		lastAssigned: map[uuid.UUID]time.Time{
			first.UserID:  now.Add(-time.Hour),
			second.UserID: now.Add(-48 * time.Hour),
			third.UserID:  now.Add(-time.Minute),
		},
	}
	engine := NewEngine(rules, leads, &recordingBus{}, logger.New("test"), nil)

	event, err := engine.EvaluateAndReassign(context.Background(), uuid.New(), leads.lead.ID, "lead.deadline.overdue")
	if err != nil {
		t.Fatalf("EvaluateAndReassign failed: %v", err)
	}
	if event.ToUserID != second.UserID {
		t.Fatalf("expected the least recently assigned member %s, got %s", second.UserID, event.ToUserID)
	}
}

func TestEvaluateAndReassignNeverAssignedWinsTie(t *testing.T) {
	veteran := member(5)
	fresh := member(5)
	rules := &fakeRuleStore{
		rule:    Rule{ID: uuid.New(), PoolID: uuid.New(), Active: true},
		members: []Member{veteran, fresh},
	}
	leads := &fakeLeadStore{
		lead: repository.Lead{ID: uuid.New()},
		lastAssigned: map[uuid.UUID]time.Time{
			veteran.UserID: time.Now().Add(-time.Hour),
		},
	}
	engine := NewEngine(rules, leads, &recordingBus{}, logger.New("test"), nil)

	event, err := engine.EvaluateAndReassign(context.Background(), uuid.New(), leads.lead.ID, "lead.deadline.overdue")
	if err != nil {
		t.Fatalf("EvaluateAndReassign failed: %v", err)
	}
	if event.ToUserID != fresh.UserID {
		t.Fatalf("expected the never-assigned member %s, got %s", fresh.UserID, event.ToUserID)
	}
}

func TestEvaluateAndReassignCustomTieBreak(t *testing.T) {
	a := member(5)
	b := member(5)
	rules := &fakeRuleStore{
		rule:    Rule{ID: uuid.New(), PoolID: uuid.New(), Active: true},
		members: []Member{a, b},
	}
	leads := &fakeLeadStore{lead: repository.Lead{ID: uuid.New()}}

	// Always pick the last candidate.
	lastWins := func(_ context.Context, _ uuid.UUID, candidates []Member) (Member, error) {
		return candidates[len(candidates)-1], nil
	}
	engine := NewEngine(rules, leads, &recordingBus{}, logger.New("test"), lastWins)

	event, err := engine.EvaluateAndReassign(context.Background(), uuid.New(), leads.lead.ID, "lead.deadline.overdue")
	if err != nil {
		t.Fatalf("EvaluateAndReassign failed: %v", err)
	}
	if event.ToUserID != b.UserID {
		t.Fatalf("expected custom tie-break winner %s, got %s", b.UserID, event.ToUserID)
	}
}

func TestEvaluateAndReassignLeadNotFound(t *testing.T) {
	rules := &fakeRuleStore{
		rule:    Rule{ID: uuid.New(), PoolID: uuid.New(), Active: true},
		members: []Member{member(1)},
	}
	leads := &fakeLeadStore{leadErr: repository.ErrNotFound}
	engine := NewEngine(rules, leads, &recordingBus{}, logger.New("test"), nil)

	_, err := engine.EvaluateAndReassign(context.Background(), uuid.New(), uuid.New(), "lead.deadline.overdue")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
