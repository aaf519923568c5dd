package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/neurospicy/routinekit/internal/models"
	"github.com/neurospicy/routinekit/internal/routine"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// nullableTime maps an optional time to its nullable column value.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// timePtr converts a scanned nullable column back to an optional time.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// scanTask scans a Task from sql.Rows.
func scanTask(rows *sql.Rows) (models.Task, error) {
	var t models.Task
	var owner string
	var completedAt, expiresAt sql.NullTime
	if err := rows.Scan(&t.ID, &owner, &t.Title, &t.Completed, &completedAt, &expiresAt, &t.CreatedAt); err != nil {
		return t, fmt.Errorf("failed to scan task row: %w", err)
	}
	t.Owner = models.OwnerID(owner)
	t.CompletedAt = timePtr(completedAt)
	t.ExpiresAt = timePtr(expiresAt)
	return t, nil
}

// scanTaskRow scans a Task from a single sql.Row.
func scanTaskRow(row *sql.Row) (models.Task, error) {
	var t models.Task
	var owner string
	var completedAt, expiresAt sql.NullTime
	err := row.Scan(&t.ID, &owner, &t.Title, &t.Completed, &completedAt, &expiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, routine.ErrTaskNotFound
	}
	if err != nil {
		return t, fmt.Errorf("failed to scan task row: %w", err)
	}
	t.Owner = models.OwnerID(owner)
	t.CompletedAt = timePtr(completedAt)
	t.ExpiresAt = timePtr(expiresAt)
	return t, nil
}

// scanClarification scans a PendingClarification from sql.Rows.
func scanClarification(rows *sql.Rows) (models.PendingClarification, error) {
	var c models.PendingClarification
	var owner, instanceID, phaseID, stepID, parameterType string
	if err := rows.Scan(&owner, &instanceID, &phaseID, &stepID, &c.Question, &c.ParameterKey, &parameterType, &c.AskedAt); err != nil {
		return c, fmt.Errorf("failed to scan clarification row: %w", err)
	}
	c.Owner = models.OwnerID(owner)
	c.InstanceID = models.InstanceID(instanceID)
	c.PhaseID = models.PhaseID(phaseID)
	c.StepID = models.StepID(stepID)
	c.ParameterType = models.ParameterType(parameterType)
	return c, nil
}

// scanEvent scans a RoutineEventLogEntry from sql.Rows.
func scanEvent(rows *sql.Rows) (models.RoutineEventLogEntry, error) {
	var e models.RoutineEventLogEntry
	var instanceID, owner, event string
	var metadata sql.NullString
	if err := rows.Scan(&instanceID, &owner, &event, &e.Timestamp, &metadata); err != nil {
		return e, fmt.Errorf("failed to scan event row: %w", err)
	}
	e.InstanceID = models.InstanceID(instanceID)
	e.Owner = models.OwnerID(owner)
	e.Event = models.RoutineEventType(event)
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return e, fmt.Errorf("failed to decode event metadata: %w", err)
		}
	}
	return e, nil
}
