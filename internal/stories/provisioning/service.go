package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rackforge/internal/catalog"
	"rackforge/internal/metrics"
	"rackforge/internal/stories/orders"
)

const actor = "system:provisioner"

// Service drives the provisioning saga: a paid order gets a task, the task
// gets an instance, the instance readiness finalizes the order. Every step is
// re-entrant so a crashed saga can be picked up where it stopped.
type Service struct {
	storage        Storage
	orderStore     OrderReader
	compute        Compute
	lifecycle      Lifecycle
	catalog        *catalog.Catalog
	attemptTimeout time.Duration
	maxDuration    time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

func NewService(
	storage Storage,
	orderStore OrderReader,
	compute Compute,
	lifecycle Lifecycle,
	cat *catalog.Catalog,
	attemptTimeout time.Duration,
	maxDuration time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		storage:        storage,
		orderStore:     orderStore,
		compute:        compute,
		lifecycle:      lifecycle,
		catalog:        cat,
		attemptTimeout: attemptTimeout,
		maxDuration:    maxDuration,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue creates the PENDING task for a paid order. Idempotent per order;
// implements orders.ProvisionEnqueuer.
func (s *Service) Enqueue(ctx context.Context, orderID string) error {
	if err := s.storage.CreateTask(ctx, orderID); err != nil {
		return fmt.Errorf("create provisioning task: %w", err)
	}
	s.logger.Info("Provisioning task enqueued", "order_id", orderID)
	return nil
}

func (s *Service) TaskForOrder(ctx context.Context, orderID string) (*Task, error) {
	return s.storage.GetTaskByOrderID(ctx, orderID)
}

// ProcessPending starts the saga for queued tasks: moves the order to
// PROVISIONING and issues the create-instance call.
func (s *Service) ProcessPending(ctx context.Context, limit int) error {
	tasks, err := s.storage.ListTasksByStatus(ctx, TaskPending, limit)
	if err != nil {
		return fmt.Errorf("list pending tasks: %w", err)
	}

	for _, task := range tasks {
		if err := s.StartTask(ctx, task); err != nil {
			s.logger.Error("Failed to start provisioning task",
				"task_id", task.ID,
				"order_id", task.OrderID,
				"error", err)
		}
	}
	return nil
}

// ProcessRunning polls the provider for tasks with an issued create call.
func (s *Service) ProcessRunning(ctx context.Context, limit int) error {
	tasks, err := s.storage.ListTasksByStatus(ctx, TaskRunning, limit)
	if err != nil {
		return fmt.Errorf("list running tasks: %w", err)
	}

	for _, task := range tasks {
		if err := s.PollTask(ctx, task); err != nil {
			s.logger.Error("Failed to poll provisioning task",
				"task_id", task.ID,
				"order_id", task.OrderID,
				"error", err)
		}
	}
	return nil
}

// StartTask executes the first half of the saga for one task. Before any create call it
// checks whether the provider already holds an instance tagged with the order
// id, so a crash after a create never provisions twice.
func (s *Service) StartTask(ctx context.Context, task *Task) error {
	_, err := s.lifecycle.Apply(ctx, orders.ApplyParams{
		OrderID: task.OrderID,
		Event:   orders.EventProvisioningStarted,
		Actor:   actor,
	})
	if err != nil && !errors.Is(err, orders.ErrConflict) {
		return fmt.Errorf("apply provisioning started: %w", err)
	}

	order, err := s.orderStore.GetOrder(ctx, task.OrderID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return s.fail(ctx, task, "order disappeared")
	}
	if order.Status != orders.StatusProvisioning {
		// A conflict above and a non-provisioning order means the order went
		// somewhere this task cannot follow (admin remediation, etc).
		return s.fail(ctx, task, fmt.Sprintf("order is %s, not PROVISIONING", order.Status))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()

	existing, err := s.compute.FindInstanceByTag(attemptCtx, task.OrderID)
	if err != nil {
		return fmt.Errorf("find instance by tag: %w", err)
	}
	if existing != nil {
		s.logger.Info("Adopting existing instance for order",
			"order_id", task.OrderID,
			"instance_id", existing.ID)
		if existing.Ready {
			return s.complete(ctx, task, existing)
		}
		return s.markRunning(ctx, task, nil, existing.ID)
	}

	plan, ok := s.catalog.Plan(order.PlanID)
	if !ok {
		return s.fail(ctx, task, fmt.Sprintf("plan %s no longer in catalog", order.PlanID))
	}

	providerTask, err := s.compute.CreateInstance(attemptCtx, CreateInstanceParams{
		PlanID:   order.PlanID,
		ImageID:  order.ImageID,
		Hostname: order.Hostname,
		Region:   plan.Region,
		Tag:      task.OrderID,
	})
	if err != nil {
		return s.fail(ctx, task, fmt.Sprintf("create instance: %v", err))
	}

	instanceID := ""
	if providerTask.Instance != nil {
		instanceID = providerTask.Instance.ID
	}
	return s.markRunning(ctx, task, &providerTask.ID, instanceID)
}

// PollTask advances one running task by asking the provider for progress.
func (s *Service) PollTask(ctx context.Context, task *Task) error {
	startedAt := task.CreatedAt
	if task.StartedAt != nil {
		startedAt = *task.StartedAt
	}
	if s.now().Sub(startedAt) > s.maxDuration {
		return s.fail(ctx, task, fmt.Sprintf("provisioning timed out after %s", s.maxDuration))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()

	if task.ProviderTaskID != nil {
		providerTask, err := s.compute.GetTask(attemptCtx, *task.ProviderTaskID)
		if err != nil {
			// Transient poll errors are retried next tick; the deadline above
			// bounds how long that can go on.
			return fmt.Errorf("get provider task: %w", err)
		}

		switch providerTask.Status {
		case ProviderTaskCompleted:
			if providerTask.Instance == nil {
				return s.fail(ctx, task, "provider reported completion without an instance")
			}
			return s.complete(ctx, task, providerTask.Instance)
		case ProviderTaskFailed:
			msg := providerTask.Error
			if msg == "" {
				msg = "provider reported failure"
			}
			return s.fail(ctx, task, msg)
		default:
			return nil
		}
	}

	// Adopted instance without a provider task id: watch the tag instead.
	instance, err := s.compute.FindInstanceByTag(attemptCtx, task.OrderID)
	if err != nil {
		return fmt.Errorf("find instance by tag: %w", err)
	}
	if instance != nil && instance.Ready {
		return s.complete(ctx, task, instance)
	}
	return nil
}

// Recover re-drives tasks stuck in a non-terminal state past the staleness
// cutoff: pending tasks are restarted (tag check first), running ones
// re-polled by the recorded provider task id.
func (s *Service) Recover(ctx context.Context, staleAfter time.Duration) (int, error) {
	stale, err := s.storage.ListStaleTasks(ctx, s.now().Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("list stale tasks: %w", err)
	}

	for _, task := range stale {
		s.logger.Warn("Recovering stale provisioning task",
			"task_id", task.ID,
			"order_id", task.OrderID,
			"status", string(task.Status),
			"updated_at", task.UpdatedAt)

		var err error
		switch task.Status {
		case TaskPending:
			err = s.StartTask(ctx, task)
		case TaskRunning:
			err = s.PollTask(ctx, task)
		}
		if err != nil {
			s.logger.Error("Failed to recover provisioning task",
				"task_id", task.ID,
				"order_id", task.OrderID,
				"error", err)
		}
	}

	return len(stale), nil
}

func (s *Service) markRunning(ctx context.Context, task *Task, providerTaskID *string, instanceID string) error {
	status := TaskRunning
	startedAt := s.now()
	params := TaskUpdateParams{
		Status:         &status,
		ProviderTaskID: providerTaskID,
		StartedAt:      &startedAt,
	}
	if instanceID != "" {
		params.InstanceID = &instanceID
	}
	if _, err := s.storage.UpdateTask(ctx, task.ID, params); err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}
	return nil
}

func (s *Service) complete(ctx context.Context, task *Task, instance *ProviderInstance) error {
	status := TaskCompleted
	finishedAt := s.now()
	_, err := s.storage.UpdateTask(ctx, task.ID, TaskUpdateParams{
		Status:     &status,
		InstanceID: &instance.ID,
		InstanceIP: &instance.IP,
		Region:     &instance.Region,
		FinishedAt: &finishedAt,
	})
	if err != nil {
		return fmt.Errorf("mark task completed: %w", err)
	}

	_, err = s.lifecycle.Apply(ctx, orders.ApplyParams{
		OrderID: task.OrderID,
		Event:   orders.EventProvisioningCompleted,
		Actor:   actor,
		Reason:  fmt.Sprintf("instance %s ready at %s (%s)", instance.ID, instance.IP, instance.Region),
	})
	if err != nil && !errors.Is(err, orders.ErrConflict) {
		return fmt.Errorf("apply provisioning completed: %w", err)
	}

	s.logger.Info("Provisioning completed",
		"order_id", task.OrderID,
		"instance_id", instance.ID,
		"ip", instance.IP)
	metrics.ProvisioningOutcomes.WithLabelValues("completed").Inc()
	return nil
}

// fail finalizes the task and the order. No automatic retry or refund: the
// failure is surfaced to operators for a manual decision.
func (s *Service) fail(ctx context.Context, task *Task, message string) error {
	status := TaskFailed
	finishedAt := s.now()
	_, err := s.storage.UpdateTask(ctx, task.ID, TaskUpdateParams{
		Status:       &status,
		ErrorMessage: &message,
		FinishedAt:   &finishedAt,
	})
	if err != nil {
		return fmt.Errorf("mark task failed: %w", err)
	}

	_, err = s.lifecycle.Apply(ctx, orders.ApplyParams{
		OrderID: task.OrderID,
		Event:   orders.EventProvisioningFailed,
		Actor:   actor,
		Reason:  message,
	})
	if err != nil && !errors.Is(err, orders.ErrConflict) {
		return fmt.Errorf("apply provisioning failed: %w", err)
	}

	s.logger.Error("Provisioning failed",
		"order_id", task.OrderID,
		"task_id", task.ID,
		"reason", message)
	metrics.ProvisioningOutcomes.WithLabelValues("failed").Inc()
	return nil
}
