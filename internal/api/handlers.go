package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/models"
	"github.com/neurospicy/routinekit/internal/routine"
)

type setupRequest struct {
	Owner      string            `json:"owner"`
	TemplateID string            `json:"templateId"`
	Parameters map[string]string `json:"parameters"`
}

func (s *Server) setupHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.setupHandler: processing setup request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.setupHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Owner == "" || req.TemplateID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("owner and templateId are required"))
		return
	}

	inst, err := s.engine.SetupRoutine(r.Context(), models.OwnerID(req.Owner), models.TemplateID(req.TemplateID), req.Parameters)
	if errors.Is(err, routine.ErrTemplateNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Template not found"))
		return
	}
	if err != nil {
		slog.Error("Server.setupHandler: setup failed", "error", err, "template_id", req.TemplateID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to set up routine"))
		return
	}
	slog.Info("Server.setupHandler: routine set up", "owner", req.Owner, "instance_id", string(inst.ID))
	writeJSONResponse(w, http.StatusCreated, models.Success(inst))
}

type answerRequest struct {
	Owner string `json:"owner"`
	Text  string `json:"text"`
}

func (s *Server) answerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.answerHandler: processing answer", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.answerHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Owner == "" || req.Text == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("owner and text are required"))
		return
	}

	clarification, err := s.engine.Answer(r.Context(), models.OwnerID(req.Owner), req.Text)
	if errors.Is(err, routine.ErrClarificationNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No pending question for this owner"))
		return
	}
	if err != nil {
		slog.Warn("Server.answerHandler: answer rejected", "error", err, "owner", req.Owner)
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Answer recorded", clarification))
}

type stopTodayRequest struct {
	Owner      string `json:"owner"`
	InstanceID string `json:"instanceId"`
	Reason     string `json:"reason"`
}

func (s *Server) stopTodayHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req stopTodayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.stopTodayHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Owner == "" || req.InstanceID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("owner and instanceId are required"))
		return
	}

	s.publisher.Publish(events.StopRoutineForToday{
		Owner:      models.OwnerID(req.Owner),
		InstanceID: models.InstanceID(req.InstanceID),
		Reason:     req.Reason,
	})
	slog.Info("Server.stopTodayHandler: stop-today requested", "owner", req.Owner, "instance_id", req.InstanceID)
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Stop requested", nil))
}

func (s *Server) instancesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("owner query parameter is required"))
		return
	}
	instances, err := s.instances.ListInstancesByOwner(r.Context(), models.OwnerID(owner))
	if err != nil {
		slog.Error("Server.instancesHandler: list failed", "error", err, "owner", owner)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list routines"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(instances))
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	instanceID := r.URL.Query().Get("instance")
	if instanceID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("instance query parameter is required"))
		return
	}
	entries, err := s.audit.ListEvents(r.Context(), models.InstanceID(instanceID))
	if err != nil {
		slog.Error("Server.eventsHandler: list failed", "error", err, "instance_id", instanceID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list events"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}

func (s *Server) templatesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	templates, err := s.templates.ListTemplates(r.Context())
	if err != nil {
		slog.Error("Server.templatesHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list templates"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(templates))
}

func (s *Server) tasksHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("owner query parameter is required"))
		return
	}
	tasks, err := s.tasks.ListTasksByOwner(r.Context(), models.OwnerID(owner))
	if err != nil {
		slog.Error("Server.tasksHandler: list failed", "error", err, "owner", owner)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list tasks"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(tasks))
}

type taskRequest struct {
	Owner  string `json:"owner"`
	TaskID string `json:"taskId"`
}

func (s *Server) taskCompleteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.taskCompleteHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Owner == "" || req.TaskID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("owner and taskId are required"))
		return
	}

	task, err := s.tasks.CompleteTask(r.Context(), models.OwnerID(req.Owner), req.TaskID)
	if errors.Is(err, routine.ErrTaskNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Task not found"))
		return
	}
	if err != nil {
		slog.Error("Server.taskCompleteHandler: complete failed", "error", err, "task_id", req.TaskID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to complete task"))
		return
	}

	s.publisher.Publish(events.TaskCompleted{Owner: task.Owner, TaskID: task.ID})
	slog.Info("Server.taskCompleteHandler: task completed", "owner", req.Owner, "task_id", task.ID)
	writeJSONResponse(w, http.StatusOK, models.Success(task))
}

func (s *Server) taskRemoveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.taskRemoveHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Owner == "" || req.TaskID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("owner and taskId are required"))
		return
	}

	task, err := s.tasks.RemoveTask(r.Context(), models.OwnerID(req.Owner), req.TaskID)
	if errors.Is(err, routine.ErrTaskNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Task not found"))
		return
	}
	if err != nil {
		slog.Error("Server.taskRemoveHandler: remove failed", "error", err, "task_id", req.TaskID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to remove task"))
		return
	}

	s.publisher.Publish(events.TaskRemoved{
		Owner:     task.Owner,
		TaskID:    task.ID,
		TaskTitle: task.Title,
		Completed: task.Completed,
	})
	slog.Info("Server.taskRemoveHandler: task removed", "owner", req.Owner, "task_id", task.ID, "completed", task.Completed)
	writeJSONResponse(w, http.StatusOK, models.Success(task))
}
