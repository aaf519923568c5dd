package models

import "time"

// Task is an externally managed to-do item. The engine creates tasks for
// confirmable action steps and CreateTask effects; completing or removing
// them is the task subsystem's concern and reaches the engine as events.
type Task struct {
	ID          string     `json:"id"`
	Owner       OwnerID    `json:"owner"`
	Title       string     `json:"title"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// PendingClarification is an open question the conversational layer owes the
// engine an answer to. It carries the ids needed to route the eventual answer
// back to the parameter request step that asked.
type PendingClarification struct {
	Owner         OwnerID       `json:"owner"`
	InstanceID    InstanceID    `json:"instanceId"`
	PhaseID       PhaseID       `json:"phaseId"`
	StepID        StepID        `json:"stepId"`
	Question      string        `json:"question"`
	ParameterKey  string        `json:"parameterKey"`
	ParameterType ParameterType `json:"parameterType"`
	AskedAt       time.Time     `json:"askedAt"`
}
