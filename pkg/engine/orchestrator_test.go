package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) index(s string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, c := range l.calls {
		if c == s {
			return i
		}
	}
	return -1
}

type fakePlan struct{ report *KindReport }

func (p *fakePlan) Report() *KindReport { return p.report }

type fakeKind struct {
	name    string
	report  *KindReport
	phases  map[Phase]bool
	planErr error
	failOn  Phase
	delay   time.Duration
	log     *callLog

	mu    sync.Mutex
	empty []string
	plans int
}

func (k *fakeKind) Name() string { return k.name }

func (k *fakeKind) Plan(_ context.Context, _ *PlanRequest) (KindPlan, error) {
	k.mu.Lock()
	k.plans++
	k.mu.Unlock()
	if k.planErr != nil {
		return nil, k.planErr
	}
	r := k.report
	if r == nil {
		r = &KindReport{Kind: k.name}
	}
	return &fakePlan{report: r}, nil
}

func (k *fakeKind) Apply(_ context.Context, req *ApplyRequest) error {
	if !k.phases[req.Phase] {
		return nil
	}
	if k.delay > 0 {
		time.Sleep(k.delay)
	}
	if req.Phase == k.failOn {
		return NewRemoteRejectionError("rejected", nil)
	}
	if req.Phase == PhaseDeleteEmptyApplications {
		k.mu.Lock()
		k.empty = append(k.empty, req.EmptyApplications...)
		k.mu.Unlock()
	}
	k.log.add(k.name + ":" + string(req.Phase))
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []EventType
}

func (p *recordingPublisher) Publish(_ context.Context, e *Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.Type)
	return nil
}

func changeReport(kind string, ops ...OperationType) *KindReport {
	r := &KindReport{Kind: kind}
	for i, op := range ops {
		r.Rows = append(r.Rows, ChangeRow{Kind: kind, ResourceType: kind, Name: string(rune('a' + i)), Operation: op})
	}
	return r
}

func TestOrchestrator_PhaseOrdering(t *testing.T) {
	log := &callLog{}
	gateway := &fakeKind{
		name:   "application",
		report: changeReport("application", OperationDelete),
		phases: map[Phase]bool{PhaseUpdateGateway: true, PhaseDeleteGateway: true},
		delay:  20 * time.Millisecond,
		log:    log,
	}
	database := &fakeKind{
		name:   "database",
		report: changeReport("database", OperationDelete),
		phases: map[Phase]bool{PhaseProvideDependencies: true, PhaseShedSubResources: true, PhaseDeleteServices: true},
		log:    log,
	}
	executor := &fakeKind{
		name:   "executor",
		phases: map[Phase]bool{PhaseProvideDependents: true, PhaseDeleteDependents: true},
		log:    log,
	}

	o := NewOrchestrator([]Kind{database, gateway, executor})
	res, err := o.Run(context.Background(), RunRequest{Application: "app"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != RunStatusSucceeded {
		t.Errorf("status = %s, want succeeded", res.Status)
	}
	if len(res.Phases) != len(Phases) {
		t.Errorf("ran %d phases, want %d", len(res.Phases), len(Phases))
	}

	order := []string{
		"database:" + string(PhaseProvideDependencies),
		"database:" + string(PhaseShedSubResources),
		"application:" + string(PhaseUpdateGateway),
		"executor:" + string(PhaseProvideDependents),
		"executor:" + string(PhaseDeleteDependents),
		"application:" + string(PhaseDeleteGateway),
		"database:" + string(PhaseDeleteServices),
	}
	prev := -1
	for _, c := range order {
		i := log.index(c)
		if i <= prev {
			t.Fatalf("call %s at %d, expected after %d; log=%v", c, i, prev, log.calls)
		}
		prev = i
	}
}

func TestOrchestrator_DryRunPerformsNoMutations(t *testing.T) {
	log := &callLog{}
	k := &fakeKind{
		name:   "database",
		report: changeReport("database", OperationCreate, OperationDelete),
		phases: map[Phase]bool{PhaseProvideDependencies: true, PhaseDeleteServices: true},
		log:    log,
	}
	c := &scriptedConfirmer{}

	o := NewOrchestrator([]Kind{k}, WithGate(NewGate(c, false, zerolog.Nop())))
	res, err := o.Run(context.Background(), RunRequest{Application: "app", DryRun: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != RunStatusPlanned {
		t.Errorf("status = %s, want planned", res.Status)
	}
	if res.Report.Summary.ToCreate != 1 || res.Report.Summary.ToDelete != 1 {
		t.Errorf("summary = %+v", res.Report.Summary)
	}
	if len(log.calls) != 0 {
		t.Errorf("dry run applied: %v", log.calls)
	}
	if len(c.asked) != 0 {
		t.Errorf("dry run prompted %d times", len(c.asked))
	}
}

func TestOrchestrator_CancelledBeforeMutation(t *testing.T) {
	log := &callLog{}
	k := &fakeKind{
		name: "database",
		report: &KindReport{
			Kind:      "database",
			Rows:      []ChangeRow{{Kind: "database", ResourceType: "database_service", Name: "a", Operation: OperationUpdate}},
			Conflicts: []OwnerConflict{{ResourceType: "database_service", ResourceName: "a", CurrentOwner: "other"}},
		},
		phases: map[Phase]bool{PhaseProvideDependencies: true},
		log:    log,
	}
	events := &recordingPublisher{}

	o := NewOrchestrator([]Kind{k},
		WithGate(NewGate(&scriptedConfirmer{answers: []bool{false}}, false, zerolog.Nop())),
		WithEventPublisher(events),
	)
	res, err := o.Run(context.Background(), RunRequest{Application: "app"})
	if !IsCancelled(err) {
		t.Fatalf("Run() error = %v, want cancelled", err)
	}
	if res.Status != RunStatusCancelled {
		t.Errorf("status = %s, want cancelled", res.Status)
	}
	if len(log.calls) != 0 {
		t.Errorf("cancelled run applied: %v", log.calls)
	}
	if last := events.events[len(events.events)-1]; last != EventTypeRunCancelled {
		t.Errorf("last event = %s, want %s", last, EventTypeRunCancelled)
	}
}

func TestOrchestrator_PhaseFailureAborts(t *testing.T) {
	log := &callLog{}
	gateway := &fakeKind{
		name:   "application",
		report: changeReport("application", OperationUpdate),
		phases: map[Phase]bool{PhaseUpdateGateway: true},
		failOn: PhaseUpdateGateway,
		log:    log,
	}
	executor := &fakeKind{
		name:   "executor",
		phases: map[Phase]bool{PhaseProvideDependents: true},
		log:    log,
	}

	o := NewOrchestrator([]Kind{gateway, executor})
	res, err := o.Run(context.Background(), RunRequest{Application: "app"})
	if err == nil {
		t.Fatal("Run() expected error")
	}
	if !IsRemoteRejection(err) {
		t.Errorf("error class lost: %v", err)
	}
	if !strings.Contains(err.Error(), "no automatic cleanup") {
		t.Errorf("error message = %q", err.Error())
	}
	if res.Status != RunStatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if log.index("executor:"+string(PhaseProvideDependents)) >= 0 {
		t.Error("phase after failure was executed")
	}
}

func TestOrchestrator_PlanFailure(t *testing.T) {
	k := &fakeKind{name: "auth", planErr: errors.New("boom")}
	o := NewOrchestrator([]Kind{k})
	_, err := o.Run(context.Background(), RunRequest{Application: "app"})
	if err == nil || !strings.Contains(err.Error(), "failed to plan auth") {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestOrchestrator_EmptyApplications(t *testing.T) {
	log := &callLog{}
	db := &fakeKind{
		name: "database",
		report: &KindReport{
			Kind: "database",
			Rows: []ChangeRow{
				{Kind: "database", ResourceType: "database_service", Name: "a", Operation: OperationUpdate},
				{Kind: "database", ResourceType: "database_service", Name: "b", Operation: OperationUpdate},
			},
			Conflicts: []OwnerConflict{
				{ResourceType: "database_service", ResourceName: "a", CurrentOwner: "renamed"},
				{ResourceType: "database_service", ResourceName: "b", CurrentOwner: "shared"},
			},
			OtherOwners: NewOwnerSet("shared"),
		},
		log: log,
	}
	app := &fakeKind{
		name:   "application",
		phases: map[Phase]bool{PhaseDeleteEmptyApplications: true},
		log:    log,
	}

	o := NewOrchestrator([]Kind{db, app}, WithGate(NewGate(nil, true, zerolog.Nop())))
	res, err := o.Run(context.Background(), RunRequest{Application: "app"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := res.Report.EmptyApplications; len(got) != 1 || got[0] != "renamed" {
		t.Errorf("empty applications = %v, want [renamed]", got)
	}
	if len(app.empty) != 1 || app.empty[0] != "renamed" {
		t.Errorf("application kind saw %v", app.empty)
	}
}

func TestOrchestrator_NoChangesSkipsPhases(t *testing.T) {
	log := &callLog{}
	k := &fakeKind{
		name:   "database",
		report: changeReport("database", OperationNoop),
		phases: map[Phase]bool{PhaseProvideDependencies: true},
		log:    log,
	}
	o := NewOrchestrator([]Kind{k})
	res, err := o.Run(context.Background(), RunRequest{Application: "app"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != RunStatusSucceeded || len(res.Phases) != 0 || len(log.calls) != 0 {
		t.Errorf("status=%s phases=%d calls=%v", res.Status, len(res.Phases), log.calls)
	}
}

type rejectAll struct{}

func (rejectAll) CheckReport(context.Context, *Report) error {
	return NewValidationError("policy denied", nil).WithCode(ErrCodePolicyViolation)
}

func TestOrchestrator_ReportCheckRunsBeforeGate(t *testing.T) {
	c := &scriptedConfirmer{}
	k := &fakeKind{
		name: "database",
		report: &KindReport{
			Kind:      "database",
			Rows:      []ChangeRow{{Operation: OperationUpdate}},
			Conflicts: []OwnerConflict{{ResourceName: "a", CurrentOwner: "x"}},
		},
		log: &callLog{},
	}
	o := NewOrchestrator([]Kind{k}, WithReportCheck(rejectAll{}), WithGate(NewGate(c, false, zerolog.Nop())))
	_, err := o.Run(context.Background(), RunRequest{Application: "app"})
	if !IsValidation(err) {
		t.Fatalf("Run() error = %v, want validation", err)
	}
	if len(c.asked) != 0 {
		t.Error("gate ran after a failed check")
	}
}
