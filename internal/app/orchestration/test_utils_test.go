package orchestration

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/vulnscan-armada/internal/domain/deployment"
	"github.com/ahrav/vulnscan-armada/internal/domain/engine"
	"github.com/ahrav/vulnscan-armada/internal/domain/finding"
	"github.com/ahrav/vulnscan-armada/internal/domain/notification"
	"github.com/ahrav/vulnscan-armada/internal/domain/task"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
	"github.com/ahrav/vulnscan-armada/pkg/common/timeutil"
)

// mockProvider implements deployment.Provider for testing.
type mockProvider struct{ mock.Mock }

func (m *mockProvider) Create(ctx context.Context, id string) (deployment.Info, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(deployment.Info), args.Error(1)
}

func (m *mockProvider) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockProvider) IsReady(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

// mockScanner implements engine.Client for testing.
type mockScanner struct{ mock.Mock }

func (m *mockScanner) Launch(ctx context.Context, ep engine.Endpoint, target string) (engine.Handles, error) {
	args := m.Called(ctx, ep, target)
	return args.Get(0).(engine.Handles), args.Error(1)
}

func (m *mockScanner) Status(ctx context.Context, ep engine.Endpoint, h engine.Handles) (engine.RunStatus, error) {
	args := m.Called(ctx, ep, h)
	return args.Get(0).(engine.RunStatus), args.Error(1)
}

func (m *mockScanner) Report(ctx context.Context, ep engine.Endpoint, h engine.Handles) ([]byte, error) {
	args := m.Called(ctx, ep, h)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockScanner) Terminate(ctx context.Context, ep engine.Endpoint, h engine.Handles) error {
	args := m.Called(ctx, ep, h)
	return args.Error(0)
}

func (m *mockScanner) Delete(ctx context.Context, ep engine.Endpoint, h engine.Handles) error {
	args := m.Called(ctx, ep, h)
	return args.Error(0)
}

func (m *mockScanner) ParseReport(raw []byte) (*finding.Report, error) {
	args := m.Called(raw)
	if r := args.Get(0); r != nil {
		return r.(*finding.Report), args.Error(1)
	}
	return nil, args.Error(1)
}

// memReportStore is an in-memory finding.ReportStore.
type memReportStore struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	stores   int
	storeErr error
	loadErr  error
}

func newMemReportStore() *memReportStore {
	return &memReportStore{blobs: make(map[string][]byte)}
}

func (s *memReportStore) Store(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores++
	if s.storeErr != nil {
		return s.storeErr
	}
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (s *memReportStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	b, ok := s.blobs[key]
	if !ok {
		return nil, finding.ErrReportNotFound
	}
	return append([]byte(nil), b...), nil
}

func (s *memReportStore) blob(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[key]
}

// mockClassifier implements finding.Classifier for testing.
type mockClassifier struct{ mock.Mock }

func (m *mockClassifier) FixRequirements(ctx context.Context, oids []string) (map[string]finding.FixRequired, error) {
	args := m.Called(ctx, oids)
	if c := args.Get(0); c != nil {
		return c.(map[string]finding.FixRequired), args.Error(1)
	}
	return nil, args.Error(1)
}

// recordingNotifier captures every message it is asked to send.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notification.Message
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

func (n *recordingNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.msgs))
	for _, m := range n.msgs {
		out = append(out, m.Title)
	}
	return out
}

// scanRow mirrors the scan-side columns touched by changesets.
type scanRow struct {
	linked      bool
	startedAt   time.Time
	endedAt     time.Time
	reset       bool
	errorReason string
}

// fakeRepo is an in-memory task.Repository. Stored tasks are copies so that a
// failed Apply leaves the persisted state untouched.
type fakeRepo struct {
	mu       sync.Mutex
	seq      int
	tasks    map[uuid.UUID]task.Task
	order    map[uuid.UUID]int
	scans    map[uuid.UUID]*scanRow
	webhooks map[int64]string
	results  map[int64][]finding.Result
	vulns    map[string]finding.Vulnerability

	applies  int
	applyErr error
	listErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		tasks:    make(map[uuid.UUID]task.Task),
		order:    make(map[uuid.UUID]int),
		scans:    make(map[uuid.UUID]*scanRow),
		webhooks: make(map[int64]string),
		results:  make(map[int64][]finding.Result),
		vulns:    make(map[string]finding.Vulnerability),
	}
}

func (r *fakeRepo) add(t *task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.tasks[t.UUID()] = *t
	r.order[t.UUID()] = r.seq
	r.scans[t.UUID()] = &scanRow{linked: true}
}

// get returns a copy of the persisted task.
func (r *fakeRepo) get(id uuid.UUID) *task.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.tasks[id]
	return &c
}

func (r *fakeRepo) scan(id uuid.UUID) scanRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.scans[id]
}

func (r *fakeRepo) unlink(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans[id].linked = false
}

func (r *fakeRepo) ListByProgress(_ context.Context, p task.Progress) ([]*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}

	var out []*task.Task
	for id, t := range r.tasks {
		if t.Progress() != p {
			continue
		}
		c := r.tasks[id]
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return r.order[out[i].UUID()] < r.order[out[j].UUID()] })
	return out, nil
}

func (r *fakeRepo) CountByProgress(_ context.Context, p task.Progress) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tasks {
		if t.Progress() == p {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) IsLinked(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[id]
	return ok && s.linked, nil
}

func (r *fakeRepo) AuditWebhookURL(_ context.Context, auditID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.webhooks[auditID], nil
}

func (r *fakeRepo) Apply(_ context.Context, cs task.Changeset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applies++
	if r.applyErr != nil {
		return r.applyErr
	}

	id := cs.Task.UUID()
	r.tasks[id] = *cs.Task
	if !cs.KeepPosition {
		r.seq++
		r.order[id] = r.seq
	}

	s := r.scans[id]
	if s == nil {
		return nil
	}
	if !cs.ScanStartedAt.IsZero() {
		s.startedAt = cs.ScanStartedAt
	}
	if !cs.ScanEndedAt.IsZero() {
		s.endedAt = cs.ScanEndedAt
	}
	if cs.Report != nil {
		for _, v := range cs.Report.Vulnerabilities {
			if _, ok := r.vulns[v.OID]; !ok {
				r.vulns[v.OID] = v
			}
		}
		r.results[cs.Task.ScanID()] = append([]finding.Result(nil), cs.Report.Results...)
	}
	if cs.ResetSchedule {
		s.linked = false
		s.reset = true
		s.errorReason = cs.Task.ErrorReason()
	}
	return nil
}

var errBoom = errors.New("boom")

var (
	testNow      = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	testEndpoint = engine.Endpoint{Host: "10.0.0.5", Port: 443}
	testHandles  = engine.Handles{TaskID: "engine-task", TargetID: "engine-target"}
)

type engineSuite struct {
	engine     *Engine
	repo       *fakeRepo
	provider   *mockProvider
	scanner    *mockScanner
	reports    *memReportStore
	classifier *mockClassifier
	notifier   *recordingNotifier
	clock      *timeutil.Fake
}

func newEngineSuite(t *testing.T, cfg Config) *engineSuite {
	t.Helper()

	s := &engineSuite{
		repo:       newFakeRepo(),
		provider:   new(mockProvider),
		scanner:    new(mockScanner),
		reports:    newMemReportStore(),
		classifier: new(mockClassifier),
		notifier:   new(recordingNotifier),
		clock:      timeutil.NewFake(testNow),
	}

	metrics, err := NewEngineMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)

	s.engine, err = NewEngine(
		cfg,
		s.repo,
		s.classifier,
		s.provider,
		s.scanner,
		s.reports,
		s.notifier,
		s.clock,
		logger.Noop(),
		metrics,
		noop.NewTracerProvider().Tracer("test"),
	)
	require.NoError(t, err)
	return s
}

func readyInfo(id string) deployment.Info {
	return deployment.Info{ID: id, Status: deployment.StatusRunning, Host: testEndpoint.Host, Port: testEndpoint.Port}
}

// pendingTask returns a task whose window is open now and for the next six hours.
func pendingTask(target string) *task.Task {
	return task.NewTask(1, 2, target, testNow.Add(-time.Minute), testNow.Add(6*time.Hour), "https://hooks.example/task", testNow)
}

// runningTask returns a task launched ten minutes before testNow.
func runningTask(target string) *task.Task {
	t := task.ReconstructTask(
		10, uuid.New(), 1, 2, target,
		testNow.Add(-time.Hour), testNow.Add(6*time.Hour),
		testNow.Add(-10*time.Minute), timeutil.Unset,
		"",
		task.Session{Deployment: ptr(readyInfo("pre-abc")), Engine: ptr(testHandles)},
		task.ProgressRunning,
		"",
		testNow.Add(-time.Hour), testNow.Add(-10*time.Minute),
	)
	return t
}

func taskIn(p task.Progress, target string) *task.Task {
	return task.ReconstructTask(
		11, uuid.New(), 1, 2, target,
		testNow.Add(-time.Hour), testNow.Add(6*time.Hour),
		testNow.Add(-50*time.Minute), testNow.Add(-time.Minute),
		"",
		task.Session{Deployment: ptr(readyInfo("pre-xyz")), Engine: ptr(testHandles)},
		p,
		"",
		testNow.Add(-time.Hour), testNow.Add(-time.Minute),
	)
}

func ptr[T any](v T) *T { return &v }
