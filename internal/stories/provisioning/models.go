package provisioning

import "time"

type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
)

// Task tracks the saga that turns one paid order into a running instance.
// ProviderTaskID is recorded as soon as the provider accepted the create call,
// so a crashed saga can be resumed by re-polling instead of re-creating.
type Task struct {
	ID             int64
	OrderID        string
	Status         TaskStatus
	ProviderTaskID *string
	InstanceID     *string
	InstanceIP     *string
	Region         *string
	ErrorMessage   *string
	StartedAt      *time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type TaskUpdateParams struct {
	Status         *TaskStatus
	ProviderTaskID *string
	InstanceID     *string
	InstanceIP     *string
	Region         *string
	ErrorMessage   *string
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// Provider task statuses as reported by the compute adapter.
const (
	ProviderTaskPending   = "pending"
	ProviderTaskRunning   = "running"
	ProviderTaskCompleted = "completed"
	ProviderTaskFailed    = "failed"
)

// ProviderTask is the provider's view of an asynchronous instance creation.
type ProviderTask struct {
	ID       string
	Status   string
	Instance *ProviderInstance
	Error    string
}

type ProviderInstance struct {
	ID     string
	Name   string
	IP     string
	Region string
	Ready  bool
}

type CreateInstanceParams struct {
	PlanID   string
	ImageID  string
	Hostname string
	Region   string
	// Tag carries the order id so an existing instance can be found before
	// any second create call is issued.
	Tag string
}
