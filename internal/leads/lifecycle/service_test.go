package lifecycle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"salesflow_backend/internal/events"
	"salesflow_backend/internal/leads/domain"
	"salesflow_backend/internal/leads/repository"
	"salesflow_backend/platform/apperr"
	"salesflow_backend/platform/logger"
	"salesflow_backend/platform/validator"
)

// fakeStore is an in-memory LifecycleStore covering the paths the service
// exercises: one lead, a tenant stage set, and an append-only history.
type fakeStore struct {
	lead     repository.Lead
	leadErr  error
	stages   map[uuid.UUID]repository.StageDefinition
	history  []repository.StateHistory
	closures map[uuid.UUID]repository.Closure

	transitions []repository.TransitionParams
	undos       []repository.UndoParams
	surrenders  []string
}

func newFakeStore(lead repository.Lead, stages ...repository.StageDefinition) *fakeStore {
	s := &fakeStore{
		lead:     lead,
		stages:   map[uuid.UUID]repository.StageDefinition{},
		closures: map[uuid.UUID]repository.Closure{},
	}
	for _, st := range stages {
		s.stages[st.ID] = st
	}
	return s
}

func (s *fakeStore) GetByID(_ context.Context, _, _ uuid.UUID) (repository.Lead, error) {
	return s.lead, s.leadErr
}

func (s *fakeStore) GetStageByID(_ context.Context, id, _ uuid.UUID) (repository.StageDefinition, error) {
	st, ok := s.stages[id]
	if !ok {
		return repository.StageDefinition{}, repository.ErrStageNotFound
	}
	return st, nil
}

func (s *fakeStore) GetStageByCode(_ context.Context, _ uuid.UUID, code string) (repository.StageDefinition, error) {
	for _, st := range s.stages {
		if st.Code == code {
			return st, nil
		}
	}
	return repository.StageDefinition{}, repository.ErrStageNotFound
}

func (s *fakeStore) ListStages(_ context.Context, _ uuid.UUID) ([]repository.StageDefinition, error) {
	stages := make([]repository.StageDefinition, 0, len(s.stages))
	for _, st := range s.stages {
		stages = append(stages, st)
	}
	return stages, nil
}

func (s *fakeStore) LatestHistory(_ context.Context, _, _ uuid.UUID) (repository.StateHistory, error) {
	if len(s.history) == 0 {
		return repository.StateHistory{}, repository.ErrNoHistory
	}
	return s.history[len(s.history)-1], nil
}

func (s *fakeStore) ListHistory(_ context.Context, _, _ uuid.UUID) ([]repository.StateHistory, error) {
	rows := make([]repository.StateHistory, len(s.history))
	for i, row := range s.history {
		rows[len(s.history)-1-i] = row
	}
	return rows, nil
}

func (s *fakeStore) ApplyTransition(_ context.Context, p repository.TransitionParams) (repository.StateHistory, error) {
	s.transitions = append(s.transitions, p)
	row := repository.StateHistory{
		ID:        uuid.New(),
		TenantID:  p.TenantID,
		LeadID:    p.LeadID,
		FromState: p.FromStateID,
		ToState:   p.ToStateID,
		CreatedAt: time.Now(),
	}
	s.history = append(s.history, row)
	s.lead.Status = p.ToStatus
	return row, nil
}

func (s *fakeStore) ApplyUndo(_ context.Context, p repository.UndoParams) (repository.StateHistory, error) {
	s.undos = append(s.undos, p)
	now := time.Now()
	for i := range s.history {
		if s.history[i].ID == p.SupersededHistoryID {
			s.history[i].UndoneAt = &now
		}
	}
	row := repository.StateHistory{
		ID:        uuid.New(),
		TenantID:  p.TenantID,
		LeadID:    p.LeadID,
		FromState: &p.CurrentStateID,
		ToState:   p.PriorStateID,
		Metadata:  json.RawMessage(`{"undo": true}`),
		CreatedAt: now,
	}
	s.history = append(s.history, row)
	s.lead.Status = p.PriorStatus
	return row, nil
}

func (s *fakeStore) ApplySurrender(_ context.Context, tenantID, leadID uuid.UUID, _ *uuid.UUID, reason string) (repository.Failure, error) {
	s.surrenders = append(s.surrenders, reason)
	s.lead.Status = domain.StatusFailed
	return repository.Failure{
		ID:          uuid.New(),
		TenantID:    tenantID,
		LeadID:      leadID,
		FailureType: repository.FailureSurrender,
		Status:      repository.FailureResolved,
	}, nil
}

func (s *fakeStore) CreateClosure(_ context.Context, tenantID, leadID uuid.UUID, amount int64, address *string, proposedBy *uuid.UUID) (repository.Closure, error) {
	c := repository.Closure{
		ID:       uuid.New(),
		TenantID: tenantID,
		LeadID:   leadID,
		Amount:   amount,
		Status:   repository.ClosurePending,
	}
	s.closures[c.ID] = c
	return c, nil
}

func (s *fakeStore) GetClosure(_ context.Context, id, _ uuid.UUID) (repository.Closure, error) {
	c, ok := s.closures[id]
	if !ok {
		return repository.Closure{}, repository.ErrClosureNotFound
	}
	return c, nil
}

func (s *fakeStore) ApplyClosureDecision(_ context.Context, id, _ uuid.UUID, _ *uuid.UUID, approve bool) (repository.Closure, error) {
	c, ok := s.closures[id]
	if !ok || c.Status != repository.ClosurePending {
		return repository.Closure{}, repository.ErrClosureNotFound
	}
	if approve {
		c.Status = repository.ClosureApproved
		s.lead.Status = domain.StatusClosed
	} else {
		c.Status = repository.ClosureRejected
		s.lead.Status = domain.StatusFailed
	}
	s.closures[id] = c
	return c, nil
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

type fixture struct {
	svc    *Service
	store  *fakeStore
	bus    *recordingBus
	lead   repository.Lead
	stages map[string]repository.StageDefinition
}

func newFixture(t *testing.T, status string) *fixture {
	t.Helper()
	tenantID := uuid.New()
	lead := repository.Lead{ID: uuid.New(), TenantID: tenantID, Status: status}

	stages := map[string]repository.StageDefinition{}
	var defs []repository.StageDefinition
	for _, code := range []string{domain.StageNew, domain.StageCall, domain.StageMeeting, domain.StageSiteVisit, domain.StageClosing} {
		st := repository.StageDefinition{ID: uuid.New(), TenantID: tenantID, Code: code}
		stages[code] = st
		defs = append(defs, st)
	}

	store := newFakeStore(lead, defs...)
	bus := &recordingBus{}
	svc := New(store, domain.DefaultStagePolicy(), domain.NewLeadLocker(), bus, validator.New(), logger.New("test"))
	return &fixture{svc: svc, store: store, bus: bus, lead: lead, stages: stages}
}

func TestTransitionSingleStepSucceeds(t *testing.T) {
	f := newFixture(t, domain.StageCall)

	history, err := f.svc.Transition(context.Background(), f.lead.TenantID, f.lead.ID, f.stages[domain.StageMeeting].ID, nil)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if history.ToState != f.stages[domain.StageMeeting].ID {
		t.Fatalf("expected history into meeting stage, got %s", history.ToState)
	}

	if len(f.store.transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(f.store.transitions))
	}
	p := f.store.transitions[0]
	if !p.OpenDeadline {
		t.Fatal("expected a new deadline for a trackable stage")
	}
	if window := time.Until(p.DueAt); window < 6*24*time.Hour || window > 8*24*time.Hour {
		t.Fatalf("expected a 7-day deadline window, got %v", window)
	}
	if len(f.bus.published) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.bus.published))
	}
}

func TestTransitionRejectsStageSkip(t *testing.T) {
	f := newFixture(t, domain.StageCall)

	for _, target := range []string{domain.StageSiteVisit, domain.StageClosing, domain.StageCall} {
		_, err := f.svc.Transition(context.Background(), f.lead.TenantID, f.lead.ID, f.stages[target].ID, nil)
		if !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("expected invalid transition into %s, got %v", target, err)
		}
	}
	if len(f.store.transitions) != 0 {
		t.Fatalf("expected no writes, got %d", len(f.store.transitions))
	}
}

func TestTransitionRejectsTerminalLead(t *testing.T) {
	f := newFixture(t, domain.StatusFailed)

	_, err := f.svc.Transition(context.Background(), f.lead.TenantID, f.lead.ID, f.stages[domain.StageCall].ID, nil)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTransitionUnknownStage(t *testing.T) {
	f := newFixture(t, domain.StageCall)

	_, err := f.svc.Transition(context.Background(), f.lead.TenantID, f.lead.ID, uuid.New(), nil)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransitionLeadNotFound(t *testing.T) {
	f := newFixture(t, domain.StageCall)
	f.store.leadErr = repository.ErrNotFound

	_, err := f.svc.Transition(context.Background(), f.lead.TenantID, f.lead.ID, f.stages[domain.StageMeeting].ID, nil)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdminTransitionSkipsOrderingCheck(t *testing.T) {
	f := newFixture(t, domain.StageCall)

	_, err := f.svc.AdminTransition(context.Background(), f.lead.TenantID, f.lead.ID, f.stages[domain.StageClosing].ID, nil)
	if err != nil {
		t.Fatalf("AdminTransition failed: %v", err)
	}
	if f.store.lead.Status != domain.StageClosing {
		t.Fatalf("expected lead in closing, got %s", f.store.lead.Status)
	}
}

func TestUndoRevertsLatestTransitionOnce(t *testing.T) {
	f := newFixture(t, domain.StageCall)

	if _, err := f.svc.Transition(context.Background(), f.lead.TenantID, f.lead.ID, f.stages[domain.StageMeeting].ID, nil); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	history, err := f.svc.Undo(context.Background(), f.lead.TenantID, f.lead.ID, nil)
	if err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	if history.ToState != f.stages[domain.StageCall].ID {
		t.Fatal("expected undo back into the call stage")
	}
	if f.store.lead.Status != domain.StageCall {
		t.Fatalf("expected lead back in call, got %s", f.store.lead.Status)
	}
	if len(f.store.undos) != 1 || !f.store.undos[0].OpenDeadline {
		t.Fatal("expected undo to reopen the prior stage deadline")
	}

	// The undo row itself must not be undoable.
	_, err = f.svc.Undo(context.Background(), f.lead.TenantID, f.lead.ID, nil)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected double undo to fail, got %v", err)
	}
}

func TestUndoRejectsTerminalLead(t *testing.T) {
	f := newFixture(t, domain.StageCall)

	if _, err := f.svc.Transition(context.Background(), f.lead.TenantID, f.lead.ID, f.stages[domain.StageMeeting].ID, nil); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	// A sweep escalation forces the status without appending history, so the
	// latest history row still points at the pre-failure transition.
	f.store.lead.Status = domain.StatusFailed

	_, err := f.svc.Undo(context.Background(), f.lead.TenantID, f.lead.ID, nil)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for terminal lead, got %v", err)
	}
	if f.store.lead.Status != domain.StatusFailed {
		t.Fatalf("expected lead to stay failed, got %s", f.store.lead.Status)
	}
	if len(f.store.undos) != 0 {
		t.Fatal("expected no undo write for a terminal lead")
	}
}

func TestUndoWithoutHistory(t *testing.T) {
	f := newFixture(t, domain.StageCall)

	_, err := f.svc.Undo(context.Background(), f.lead.TenantID, f.lead.ID, nil)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUndoRejectsFirstTransition(t *testing.T) {
	f := newFixture(t, domain.StageCall)
	f.store.history = append(f.store.history, repository.StateHistory{
		ID:       uuid.New(),
		TenantID: f.lead.TenantID,
		LeadID:   f.lead.ID,
		ToState:  f.stages[domain.StageCall].ID,
	})

	_, err := f.svc.Undo(context.Background(), f.lead.TenantID, f.lead.ID, nil)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for first transition, got %v", err)
	}
}

func TestSurrenderRequiresReason(t *testing.T) {
	f := newFixture(t, domain.StageMeeting)

	_, err := f.svc.Surrender(context.Background(), f.lead.TenantID, f.lead.ID, nil, "")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.store.surrenders) != 0 {
		t.Fatal("expected no surrender write")
	}
}

func TestSurrenderFailsLeadAndPublishes(t *testing.T) {
	f := newFixture(t, domain.StageMeeting)

	failure, err := f.svc.Surrender(context.Background(), f.lead.TenantID, f.lead.ID, nil, "budget withdrawn")
	if err != nil {
		t.Fatalf("Surrender failed: %v", err)
	}
	if failure.FailureType != repository.FailureSurrender || failure.Status != repository.FailureResolved {
		t.Fatalf("unexpected failure record: %+v", failure)
	}
	if f.store.lead.Status != domain.StatusFailed {
		t.Fatalf("expected lead failed, got %s", f.store.lead.Status)
	}
	if len(f.bus.published) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.bus.published))
	}
}

func TestClosureApprovalFlow(t *testing.T) {
	f := newFixture(t, domain.StageClosing)

	closure, err := f.svc.ProposeClosure(context.Background(), f.lead.TenantID, f.lead.ID, nil, 250_000, nil)
	if err != nil {
		t.Fatalf("ProposeClosure failed: %v", err)
	}

	decided, err := f.svc.DecideClosure(context.Background(), f.lead.TenantID, closure.ID, nil, true)
	if err != nil {
		t.Fatalf("DecideClosure failed: %v", err)
	}
	if decided.Status != repository.ClosureApproved {
		t.Fatalf("expected approved closure, got %s", decided.Status)
	}
	if f.store.lead.Status != domain.StatusClosed {
		t.Fatalf("expected lead closed, got %s", f.store.lead.Status)
	}

	_, err = f.svc.DecideClosure(context.Background(), f.lead.TenantID, closure.ID, nil, false)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected already-decided error, got %v", err)
	}
}

func TestClosureRejectionFailsLead(t *testing.T) {
	f := newFixture(t, domain.StageClosing)

	closure, err := f.svc.ProposeClosure(context.Background(), f.lead.TenantID, f.lead.ID, nil, 250_000, nil)
	if err != nil {
		t.Fatalf("ProposeClosure failed: %v", err)
	}

	decided, err := f.svc.DecideClosure(context.Background(), f.lead.TenantID, closure.ID, nil, false)
	if err != nil {
		t.Fatalf("DecideClosure failed: %v", err)
	}
	if decided.Status != repository.ClosureRejected {
		t.Fatalf("expected rejected closure, got %s", decided.Status)
	}
	if f.store.lead.Status != domain.StatusFailed {
		t.Fatalf("expected lead failed, got %s", f.store.lead.Status)
	}
	if len(f.bus.published) != 1 {
		t.Fatalf("expected a lead failed event, got %d events", len(f.bus.published))
	}
}

func TestProposeClosureRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t, domain.StageClosing)

	_, err := f.svc.ProposeClosure(context.Background(), f.lead.TenantID, f.lead.ID, nil, 0, nil)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStagesReturnsTenantCatalog(t *testing.T) {
	f := newFixture(t, domain.StageCall)

	stages, err := f.svc.Stages(context.Background(), f.lead.TenantID)
	if err != nil {
		t.Fatalf("Stages failed: %v", err)
	}
	if len(stages) != len(f.stages) {
		t.Fatalf("expected %d stages, got %d", len(f.stages), len(stages))
	}
}

func TestHistoryReturnsTrailNewestFirst(t *testing.T) {
	f := newFixture(t, domain.StageCall)

	if _, err := f.svc.Transition(context.Background(), f.lead.TenantID, f.lead.ID, f.stages[domain.StageMeeting].ID, nil); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if _, err := f.svc.Undo(context.Background(), f.lead.TenantID, f.lead.ID, nil); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}

	trail, err := f.svc.History(context.Background(), f.lead.TenantID, f.lead.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(trail))
	}
	if trail[0].ToState != f.stages[domain.StageCall].ID {
		t.Fatal("expected the undo row first")
	}
	if trail[1].UndoneAt == nil {
		t.Fatal("expected the superseded row to be marked undone")
	}
}

func TestHistoryLeadNotFound(t *testing.T) {
	f := newFixture(t, domain.StageCall)
	f.store.leadErr = repository.ErrNotFound

	_, err := f.svc.History(context.Background(), f.lead.TenantID, f.lead.ID)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
