package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskDisableInactive disables users that have not signed in within the inactivity window.
	TaskDisableInactive = "users:disable-inactive"
	// TaskRetireSystemRoles soft-deletes the maker and checker roles once enough custom roles exist.
	TaskRetireSystemRoles = "roles:retire-system-roles"
)

// Cron expressions for the scheduled maintenance tasks.
const (
	CronDisableInactive   = "0 1 * * *"
	CronRetireSystemRoles = "*/30 * * * *"
)

// DisableInactivePayload overrides the configured window when InactivityDays > 0.
type DisableInactivePayload struct {
	InactivityDays int `json:"inactivity_days,omitempty"`
}

// NewDisableInactiveTask builds a disable-inactive task.
func NewDisableInactiveTask(inactivityDays int) (*asynq.Task, error) {
	body, err := json.Marshal(DisableInactivePayload{InactivityDays: inactivityDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDisableInactive, body, asynq.Queue(QueueDefault), asynq.Timeout(5*time.Minute)), nil
}

// NewRetireSystemRolesTask builds a retire-system-roles task.
func NewRetireSystemRolesTask() *asynq.Task {
	return asynq.NewTask(TaskRetireSystemRoles, nil, asynq.Queue(QueueDefault), asynq.Timeout(time.Minute))
}

// NewTask builds the task registered under name with its default payload.
func NewTask(name string) (*asynq.Task, error) {
	switch name {
	case TaskDisableInactive:
		return NewDisableInactiveTask(0)
	case TaskRetireSystemRoles:
		return NewRetireSystemRolesTask(), nil
	default:
		return nil, fmt.Errorf("jobs: unsupported task %s", name)
	}
}

// TaskNames lists the tasks the worker handles.
func TaskNames() []string {
	return []string{TaskDisableInactive, TaskRetireSystemRoles}
}
