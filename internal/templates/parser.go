// Package templates parses routine template documents and loads them into a
// template store. Parsing is lenient per item: a malformed step, trigger or
// phase is skipped with a warning instead of rejecting the whole document, so
// an author's typo in one trigger does not take a working routine offline.
package templates

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/neurospicy/routinekit/internal/models"
)

// ParseTemplate decodes a template document. The top-level fields title,
// version, description and at least one usable phase are required; individual
// steps, triggers and phases that fail to decode are dropped with a warning.
func ParseTemplate(data []byte) (models.RoutineTemplate, error) {
	var raw struct {
		ID          models.TemplateID `json:"templateId"`
		Title       string            `json:"title"`
		Version     string            `json:"version"`
		Description string            `json:"description"`
		SetupSteps  []json.RawMessage `json:"setupSteps"`
		Phases      []json.RawMessage `json:"phases"`
		Triggers    []json.RawMessage `json:"triggers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.RoutineTemplate{}, fmt.Errorf("failed to decode template document: %w", err)
	}
	if raw.Title == "" {
		return models.RoutineTemplate{}, fmt.Errorf("template has no title")
	}
	if raw.Version == "" {
		return models.RoutineTemplate{}, fmt.Errorf("template %q has no version", raw.Title)
	}
	if raw.Description == "" {
		return models.RoutineTemplate{}, fmt.Errorf("template %q has no description", raw.Title)
	}

	setup := make([]models.RoutineStep, 0, len(raw.SetupSteps))
	for i, rs := range raw.SetupSteps {
		step, err := models.UnmarshalStep(rs)
		if err != nil {
			slog.Warn("Skipping malformed setup step", "template", raw.Title, "index", i, "error", err)
			continue
		}
		setup = append(setup, step)
	}

	phases := make([]models.RoutinePhase, 0, len(raw.Phases))
	for i, rp := range raw.Phases {
		phase, err := parsePhase(rp)
		if err != nil {
			slog.Warn("Skipping malformed phase", "template", raw.Title, "index", i, "error", err)
			continue
		}
		phases = append(phases, phase)
	}
	if len(phases) == 0 {
		return models.RoutineTemplate{}, fmt.Errorf("template %q has no usable phases", raw.Title)
	}

	triggers := make([]models.RoutineTrigger, 0, len(raw.Triggers))
	for i, rt := range raw.Triggers {
		var trigger models.RoutineTrigger
		if err := json.Unmarshal(rt, &trigger); err != nil {
			slog.Warn("Skipping malformed trigger", "template", raw.Title, "index", i, "error", err)
			continue
		}
		triggers = append(triggers, trigger)
	}

	tmpl := models.RoutineTemplate{
		ID:          raw.ID,
		Title:       raw.Title,
		Version:     raw.Version,
		Description: raw.Description,
		SetupSteps:  setup,
		Phases:      phases,
		Triggers:    triggers,
	}
	if tmpl.ID == "" {
		tmpl.ID = models.TemplateIDFor(tmpl.Title, tmpl.Version)
	}
	return tmpl, nil
}

// parsePhase decodes a single phase, dropping malformed steps item by item.
// A phase whose steps all fail to decode is itself an error.
func parsePhase(data []byte) (models.RoutinePhase, error) {
	var raw struct {
		ID        models.PhaseID            `json:"id"`
		Title     string                    `json:"title"`
		Condition json.RawMessage           `json:"condition"`
		Steps     []json.RawMessage         `json:"steps"`
		Schedule  models.ScheduleExpression `json:"schedule"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.RoutinePhase{}, err
	}
	if raw.Title == "" {
		return models.RoutinePhase{}, fmt.Errorf("phase has no title")
	}

	var condition models.TriggerCondition
	if len(raw.Condition) > 0 && string(raw.Condition) != "null" {
		c, err := models.UnmarshalCondition(raw.Condition)
		if err != nil {
			return models.RoutinePhase{}, fmt.Errorf("phase %q has a malformed condition: %w", raw.Title, err)
		}
		condition = c
	}

	steps := make([]models.RoutineStep, 0, len(raw.Steps))
	for i, rs := range raw.Steps {
		step, err := models.UnmarshalStep(rs)
		if err != nil {
			slog.Warn("Skipping malformed step", "phase", raw.Title, "index", i, "error", err)
			continue
		}
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		return models.RoutinePhase{}, fmt.Errorf("phase %q has no usable steps", raw.Title)
	}

	phase := models.RoutinePhase{
		ID:        raw.ID,
		Title:     raw.Title,
		Condition: condition,
		Steps:     steps,
		Schedule:  raw.Schedule,
	}
	if phase.ID == "" {
		phase.ID = models.PhaseIDFor(phase.Title)
	}
	if phase.Schedule == "" {
		phase.Schedule = models.ScheduleDaily
	}
	return phase, nil
}
