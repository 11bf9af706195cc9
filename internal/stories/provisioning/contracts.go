package provisioning

import (
	"context"
	"time"

	"rackforge/internal/stories/orders"
)

type (
	Storage interface {
		// CreateTask inserts a PENDING task unless one already exists for the
		// order (idempotent per order).
		CreateTask(ctx context.Context, orderID string) error
		GetTaskByOrderID(ctx context.Context, orderID string) (*Task, error)
		ListTasksByStatus(ctx context.Context, status TaskStatus, limit int) ([]*Task, error)
		// ListStaleTasks returns non-terminal tasks not updated since the
		// cutoff, for the recovery sweep.
		ListStaleTasks(ctx context.Context, updatedBefore time.Time) ([]*Task, error)
		UpdateTask(ctx context.Context, id int64, params TaskUpdateParams) (*Task, error)
	}

	OrderReader interface {
		GetOrder(ctx context.Context, id string) (*orders.Order, error)
	}

	// Compute is the cloud-provider adapter.
	Compute interface {
		CreateInstance(ctx context.Context, params CreateInstanceParams) (*ProviderTask, error)
		GetTask(ctx context.Context, providerTaskID string) (*ProviderTask, error)
		// FindInstanceByTag returns nil when no instance carries the tag.
		FindInstanceByTag(ctx context.Context, tag string) (*ProviderInstance, error)
	}

	Lifecycle interface {
		Apply(ctx context.Context, params orders.ApplyParams) (*orders.ApplyResult, error)
	}
)
