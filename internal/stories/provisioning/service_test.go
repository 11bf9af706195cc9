package provisioning

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"rackforge/internal/catalog"
	"rackforge/internal/stories/orders"
)

type mockTaskStore struct {
	tasks  map[string]*Task
	nextID int64
}

func newMockTaskStore() *mockTaskStore {
	return &mockTaskStore{tasks: make(map[string]*Task)}
}

func (m *mockTaskStore) CreateTask(_ context.Context, orderID string) error {
	if _, ok := m.tasks[orderID]; ok {
		return nil
	}
	m.nextID++
	now := time.Now().UTC()
	m.tasks[orderID] = &Task{
		ID:        m.nextID,
		OrderID:   orderID,
		Status:    TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (m *mockTaskStore) GetTaskByOrderID(_ context.Context, orderID string) (*Task, error) {
	return m.tasks[orderID], nil
}

func (m *mockTaskStore) ListTasksByStatus(_ context.Context, status TaskStatus, _ int) ([]*Task, error) {
	var out []*Task
	for _, task := range m.tasks {
		if task.Status == status {
			out = append(out, task)
		}
	}
	return out, nil
}

func (m *mockTaskStore) ListStaleTasks(_ context.Context, updatedBefore time.Time) ([]*Task, error) {
	var out []*Task
	for _, task := range m.tasks {
		if (task.Status == TaskPending || task.Status == TaskRunning) && task.UpdatedAt.Before(updatedBefore) {
			out = append(out, task)
		}
	}
	return out, nil
}

func (m *mockTaskStore) UpdateTask(_ context.Context, id int64, params TaskUpdateParams) (*Task, error) {
	for _, task := range m.tasks {
		if task.ID != id {
			continue
		}
		if params.Status != nil {
			task.Status = *params.Status
		}
		if params.ProviderTaskID != nil {
			task.ProviderTaskID = params.ProviderTaskID
		}
		if params.InstanceID != nil {
			task.InstanceID = params.InstanceID
		}
		if params.InstanceIP != nil {
			task.InstanceIP = params.InstanceIP
		}
		if params.Region != nil {
			task.Region = params.Region
		}
		if params.ErrorMessage != nil {
			task.ErrorMessage = params.ErrorMessage
		}
		if params.StartedAt != nil {
			task.StartedAt = params.StartedAt
		}
		if params.FinishedAt != nil {
			task.FinishedAt = params.FinishedAt
		}
		task.UpdatedAt = time.Now().UTC()
		return task, nil
	}
	return nil, errors.New("task not found")
}

type mockOrderReader struct {
	orders map[string]*orders.Order
}

func (m *mockOrderReader) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	return m.orders[id], nil
}

type mockCompute struct {
	createCalls int
	createTask  *ProviderTask
	createErr   error

	getTask *ProviderTask
	getErr  error

	tagged *ProviderInstance
}

func (m *mockCompute) CreateInstance(_ context.Context, _ CreateInstanceParams) (*ProviderTask, error) {
	m.createCalls++
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.createTask, nil
}

func (m *mockCompute) GetTask(_ context.Context, _ string) (*ProviderTask, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.getTask, nil
}

func (m *mockCompute) FindInstanceByTag(_ context.Context, _ string) (*ProviderInstance, error) {
	return m.tagged, nil
}

type mockLifecycle struct {
	applied []orders.ApplyParams
}

func (m *mockLifecycle) Apply(_ context.Context, params orders.ApplyParams) (*orders.ApplyResult, error) {
	m.applied = append(m.applied, params)
	return &orders.ApplyResult{Changed: true}, nil
}

func (m *mockLifecycle) lastEvent() orders.Event {
	if len(m.applied) == 0 {
		return ""
	}
	return m.applied[len(m.applied)-1].Event
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(catalog.Document{
		Plans:  []catalog.Plan{{ID: "vps-small", Region: "sgp", MonthlyPrice: 100}},
		Images: []catalog.Image{{ID: "ubuntu-24-04"}},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return cat
}

type fixture struct {
	store     *mockTaskStore
	reader    *mockOrderReader
	compute   *mockCompute
	lifecycle *mockLifecycle
	svc       *Service
}

func newFixture(t *testing.T, orderStatus orders.Status) *fixture {
	t.Helper()
	f := &fixture{
		store:   newMockTaskStore(),
		compute: &mockCompute{},
		reader: &mockOrderReader{orders: map[string]*orders.Order{
			"ord-1": {ID: "ord-1", UserID: 7, PlanID: "vps-small", ImageID: "ubuntu-24-04", Hostname: "web1", Status: orderStatus},
		}},
		lifecycle: &mockLifecycle{},
	}
	f.svc = NewService(f.store, f.reader, f.compute, f.lifecycle, testCatalog(t),
		time.Minute, 30*time.Minute, testLogger())
	return f
}

func TestEnqueueIsIdempotent(t *testing.T) {
	f := newFixture(t, orders.StatusPaid)
	ctx := context.Background()

	if err := f.svc.Enqueue(ctx, "ord-1"); err != nil {
		t.Fatalf("Enqueue() unexpected error: %v", err)
	}
	if err := f.svc.Enqueue(ctx, "ord-1"); err != nil {
		t.Fatalf("second Enqueue() unexpected error: %v", err)
	}
	if len(f.store.tasks) != 1 {
		t.Errorf("expected 1 task, got %d", len(f.store.tasks))
	}
}

func TestStartTaskCreatesInstance(t *testing.T) {
	f := newFixture(t, orders.StatusProvisioning)
	taskID := "ptask-1"
	f.compute.createTask = &ProviderTask{ID: taskID, Status: ProviderTaskRunning}

	ctx := context.Background()
	_ = f.store.CreateTask(ctx, "ord-1")
	task := f.store.tasks["ord-1"]

	if err := f.svc.StartTask(ctx, task); err != nil {
		t.Fatalf("StartTask() unexpected error: %v", err)
	}

	if f.compute.createCalls != 1 {
		t.Errorf("expected 1 create call, got %d", f.compute.createCalls)
	}
	if task.Status != TaskRunning {
		t.Errorf("task status = %s, want RUNNING", task.Status)
	}
	if task.ProviderTaskID == nil || *task.ProviderTaskID != taskID {
		t.Error("provider task id must be recorded before the poll phase")
	}
	if len(f.lifecycle.applied) == 0 || f.lifecycle.applied[0].Event != orders.EventProvisioningStarted {
		t.Errorf("expected PROVISIONING_STARTED first, got %+v", f.lifecycle.applied)
	}
}

func TestStartTaskAdoptsExistingInstance(t *testing.T) {
	f := newFixture(t, orders.StatusProvisioning)
	f.compute.tagged = &ProviderInstance{ID: "inst-1", IP: "203.0.113.9", Region: "sgp", Ready: true}

	ctx := context.Background()
	_ = f.store.CreateTask(ctx, "ord-1")
	task := f.store.tasks["ord-1"]

	if err := f.svc.StartTask(ctx, task); err != nil {
		t.Fatalf("StartTask() unexpected error: %v", err)
	}

	if f.compute.createCalls != 0 {
		t.Errorf("tagged instance present, create must not be called, got %d calls", f.compute.createCalls)
	}
	if task.Status != TaskCompleted {
		t.Errorf("task status = %s, want COMPLETED", task.Status)
	}
	if f.lifecycle.lastEvent() != orders.EventProvisioningCompleted {
		t.Errorf("last lifecycle event = %s, want PROVISIONING_COMPLETED", f.lifecycle.lastEvent())
	}
}

func TestStartTaskFailsWhenOrderLeftProvisioning(t *testing.T) {
	f := newFixture(t, orders.StatusFailed)

	ctx := context.Background()
	_ = f.store.CreateTask(ctx, "ord-1")
	task := f.store.tasks["ord-1"]

	if err := f.svc.StartTask(ctx, task); err != nil {
		t.Fatalf("StartTask() unexpected error: %v", err)
	}
	if task.Status != TaskFailed {
		t.Errorf("task status = %s, want FAILED", task.Status)
	}
	if f.compute.createCalls != 0 {
		t.Error("no instance may be created for an order outside PROVISIONING")
	}
}

func TestStartTaskCreateFailureFinalizes(t *testing.T) {
	f := newFixture(t, orders.StatusProvisioning)
	f.compute.createErr = errors.New("out of capacity")

	ctx := context.Background()
	_ = f.store.CreateTask(ctx, "ord-1")
	task := f.store.tasks["ord-1"]

	if err := f.svc.StartTask(ctx, task); err != nil {
		t.Fatalf("StartTask() unexpected error: %v", err)
	}
	if task.Status != TaskFailed {
		t.Errorf("task status = %s, want FAILED", task.Status)
	}
	if task.ErrorMessage == nil {
		t.Error("failure reason must be recorded on the task")
	}
	if f.lifecycle.lastEvent() != orders.EventProvisioningFailed {
		t.Errorf("last lifecycle event = %s, want PROVISIONING_FAILED", f.lifecycle.lastEvent())
	}
}

func TestPollTaskCompletes(t *testing.T) {
	f := newFixture(t, orders.StatusProvisioning)
	f.compute.getTask = &ProviderTask{
		ID:     "ptask-1",
		Status: ProviderTaskCompleted,
		Instance: &ProviderInstance{
			ID: "inst-1", IP: "203.0.113.9", Region: "sgp", Ready: true,
		},
	}

	ctx := context.Background()
	_ = f.store.CreateTask(ctx, "ord-1")
	task := f.store.tasks["ord-1"]
	taskID := "ptask-1"
	started := time.Now().UTC()
	task.Status = TaskRunning
	task.ProviderTaskID = &taskID
	task.StartedAt = &started

	if err := f.svc.PollTask(ctx, task); err != nil {
		t.Fatalf("PollTask() unexpected error: %v", err)
	}
	if task.Status != TaskCompleted {
		t.Errorf("task status = %s, want COMPLETED", task.Status)
	}
	if task.InstanceIP == nil || *task.InstanceIP != "203.0.113.9" {
		t.Error("instance ip must be recorded on completion")
	}
	if f.lifecycle.lastEvent() != orders.EventProvisioningCompleted {
		t.Errorf("last lifecycle event = %s, want PROVISIONING_COMPLETED", f.lifecycle.lastEvent())
	}
}

func TestPollTaskStillRunning(t *testing.T) {
	f := newFixture(t, orders.StatusProvisioning)
	f.compute.getTask = &ProviderTask{ID: "ptask-1", Status: ProviderTaskRunning}

	ctx := context.Background()
	_ = f.store.CreateTask(ctx, "ord-1")
	task := f.store.tasks["ord-1"]
	taskID := "ptask-1"
	started := time.Now().UTC()
	task.Status = TaskRunning
	task.ProviderTaskID = &taskID
	task.StartedAt = &started

	if err := f.svc.PollTask(ctx, task); err != nil {
		t.Fatalf("PollTask() unexpected error: %v", err)
	}
	if task.Status != TaskRunning {
		t.Errorf("task status = %s, want RUNNING while provider still works", task.Status)
	}
}

func TestPollTaskTimesOut(t *testing.T) {
	f := newFixture(t, orders.StatusProvisioning)

	ctx := context.Background()
	_ = f.store.CreateTask(ctx, "ord-1")
	task := f.store.tasks["ord-1"]
	taskID := "ptask-1"
	started := time.Now().UTC().Add(-time.Hour)
	task.Status = TaskRunning
	task.ProviderTaskID = &taskID
	task.StartedAt = &started

	if err := f.svc.PollTask(ctx, task); err != nil {
		t.Fatalf("PollTask() unexpected error: %v", err)
	}
	if task.Status != TaskFailed {
		t.Errorf("task status = %s, want FAILED after max duration", task.Status)
	}
	if f.lifecycle.lastEvent() != orders.EventProvisioningFailed {
		t.Errorf("last lifecycle event = %s, want PROVISIONING_FAILED", f.lifecycle.lastEvent())
	}
}

func TestRecoverDoesNotDoubleCreate(t *testing.T) {
	f := newFixture(t, orders.StatusProvisioning)
	// The crash happened after the provider accepted the create call but
	// before the task row recorded it.
	f.compute.tagged = &ProviderInstance{ID: "inst-1", IP: "203.0.113.9", Region: "sgp", Ready: false}

	ctx := context.Background()
	_ = f.store.CreateTask(ctx, "ord-1")
	task := f.store.tasks["ord-1"]
	task.UpdatedAt = time.Now().UTC().Add(-time.Hour)

	recovered, err := f.svc.Recover(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("Recover() unexpected error: %v", err)
	}
	if recovered != 1 {
		t.Errorf("recovered = %d, want 1", recovered)
	}
	if f.compute.createCalls != 0 {
		t.Errorf("recovery must adopt the tagged instance, got %d create calls", f.compute.createCalls)
	}
	if task.Status != TaskRunning {
		t.Errorf("task status = %s, want RUNNING while the adopted instance boots", task.Status)
	}
}
