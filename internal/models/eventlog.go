package models

import "time"

// RoutineEventType enumerates the audit log entry kinds. The log records
// lifecycle history for debugging; the engine never reads it for control flow.
type RoutineEventType string

const (
	EventRoutineStarted           RoutineEventType = "ROUTINE_STARTED"
	EventPhaseActivated           RoutineEventType = "PHASE_ACTIVATED"
	EventPhaseDeactivated         RoutineEventType = "PHASE_DEACTIVATED"
	EventStepParameterRequested   RoutineEventType = "STEP_PARAMETER_REQUESTED"
	EventStepParameterSet         RoutineEventType = "STEP_PARAMETER_SET"
	EventStepMessageSent          RoutineEventType = "STEP_MESSAGE_SENT"
	EventActionStepMessageSent    RoutineEventType = "ACTION_STEP_MESSAGE_SENT"
	EventActionStepConfirmed      RoutineEventType = "ACTION_STEP_CONFIRMED"
	EventPhaseCompleted           RoutineEventType = "PHASE_COMPLETED"
	EventTriggerScheduled         RoutineEventType = "TRIGGER_SCHEDULED"
	EventTriggerEffectExecuted    RoutineEventType = "TRIGGER_EFFECT_EXECUTED"
	EventStepScheduled            RoutineEventType = "STEP_SCHEDULED"
	EventPhaseScheduled           RoutineEventType = "PHASE_SCHEDULED"
	EventPhaseIterationsScheduled RoutineEventType = "PHASE_ITERATIONS_SCHEDULED"
	EventPhaseIterationStarted    RoutineEventType = "PHASE_ITERATION_STARTED"
	EventRoutineStoppedForToday   RoutineEventType = "ROUTINE_STOPPED_FOR_TODAY"
)

// RoutineEventLogEntry is one append-only audit record.
type RoutineEventLogEntry struct {
	InstanceID InstanceID        `json:"instanceId"`
	Owner      OwnerID           `json:"owner"`
	Event      RoutineEventType  `json:"event"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
