// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/goclaw/sagaflow/pkg/aggregate"
	"github.com/goclaw/sagaflow/pkg/api/middleware"
	"github.com/goclaw/sagaflow/pkg/api/models"
	"github.com/goclaw/sagaflow/pkg/api/response"
	"github.com/goclaw/sagaflow/pkg/command"
	"github.com/goclaw/sagaflow/pkg/event"
	"github.com/goclaw/sagaflow/pkg/eventbus"
	"github.com/goclaw/sagaflow/pkg/logger"
	"github.com/goclaw/sagaflow/pkg/saga"
)

const maxInstanceIDLength = 128

// Commit handle keys passed to deciders and actions, and written as commit metadata.
const (
	MetaCommandID      = "command_id"
	MetaRequestID      = "request_id"
	MetaTriggerEventID = "trigger_event_id"
)

// CommandOptions supplies executor options for one command. It is called per
// request, so retry settings may change while the server runs.
type CommandOptions func() []command.Option

// ProcessHandler serves process instances: feeding events through the command
// executor and reading state and history back from the repository.
type ProcessHandler struct {
	registry  *saga.Registry
	repo      *aggregate.Repository
	options   CommandOptions
	sagaOpts  []saga.Option
	schemas   *eventbus.SchemaRouter
	logger    logger.Logger
	validator *validator.Validate
}

// ProcessHandlerOption configures a ProcessHandler.
type ProcessHandlerOption func(*ProcessHandler)

// WithCommandOptions sets the per-command executor options.
func WithCommandOptions(fn CommandOptions) ProcessHandlerOption {
	return func(h *ProcessHandler) {
		if fn != nil {
			h.options = fn
		}
	}
}

// WithSagaOptions sets options applied to every loaded instance.
func WithSagaOptions(opts ...saga.Option) ProcessHandlerOption {
	return func(h *ProcessHandler) {
		h.sagaOpts = append(h.sagaOpts, opts...)
	}
}

// WithInputSchemas rejects inbound events whose payload misses a required field.
func WithInputSchemas(router *eventbus.SchemaRouter) ProcessHandlerOption {
	return func(h *ProcessHandler) {
		h.schemas = router
	}
}

// WithProcessLogger sets the handler logger.
func WithProcessLogger(l logger.Logger) ProcessHandlerOption {
	return func(h *ProcessHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewProcessHandler creates a process handler.
func NewProcessHandler(registry *saga.Registry, repo *aggregate.Repository, opts ...ProcessHandlerOption) *ProcessHandler {
	h := &ProcessHandler{
		registry:  registry,
		repo:      repo,
		options:   func() []command.Option { return nil },
		logger:    logger.Nop(),
		validator: validator.New(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// ListProcesses handles GET /api/v1/processes.
func (h *ProcessHandler) ListProcesses(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	resp := models.ProcessListResponse{Processes: make([]models.ProcessSummary, 0, len(names))}
	for _, name := range names {
		def, err := h.registry.Get(name)
		if err != nil {
			continue
		}
		resp.Processes = append(resp.Processes, models.SummarizeDefinition(def))
	}
	resp.Total = len(resp.Processes)
	response.JSON(w, http.StatusOK, resp)
}

// GetProcess handles GET /api/v1/processes/{process}.
func (h *ProcessHandler) GetProcess(w http.ResponseWriter, r *http.Request) {
	def, err := h.registry.Get(chi.URLParam(r, "process"))
	if err != nil {
		response.HandleError(w, err, requestID(r))
		return
	}
	response.JSON(w, http.StatusOK, models.SummarizeDefinition(def))
}

// ProcessEvent handles POST /api/v1/processes/{process}/instances/{id}/events.
//
// The event is applied with command.Execute: load, ProcessEvent, commit,
// retrying load and commit failures under the configured strategy.
func (h *ProcessHandler) ProcessEvent(w http.ResponseWriter, r *http.Request) {
	def, id, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var req models.ProcessEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, response.ErrCodePayloadTooLarge, "request body too large", requestID(r))
			return
		}
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", requestID(r))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID(r))
		return
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, "payload must be valid JSON", requestID(r))
		return
	}
	if h.schemas != nil {
		if err := h.schemas.ValidatePayload(req.EventType, req.Payload); err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID(r))
			return
		}
	}

	evt, err := event.New(req.EventType, req.Payload)
	if err != nil {
		response.HandleError(w, fmt.Errorf("%w: %v", response.ErrInvalidInput, err), requestID(r))
		return
	}
	if req.EventID != "" {
		evt = evt.WithID(req.EventID)
	}
	evt.Metadata = maps.Clone(req.Metadata)

	commandID := uuid.NewString()
	commit := maps.Clone(req.Metadata)
	if commit == nil {
		commit = make(map[string]string, 3)
	}
	commit[MetaCommandID] = commandID
	commit[MetaRequestID] = requestID(r)
	commit[MetaTriggerEventID] = evt.ID

	ctx := r.Context()
	log := logger.FromContext(ctx)

	var instance *saga.Saga
	opts := append([]command.Option(nil), h.options()...)
	opts = append(opts,
		command.WithCommandID(commandID),
		command.WithCommitMetadata(map[string]string{
			MetaCommandID:      commandID,
			MetaRequestID:      requestID(r),
			MetaTriggerEventID: evt.ID,
		}),
		command.WithLogger(log),
	)
	future := command.Execute(ctx,
		command.RepositoryLoader[*saga.Saga](h.repo),
		def.Factory(h.sagaOpts...),
		def.StreamID(id),
		func(ctx context.Context, s *saga.Saga) (any, error) {
			result, err := s.ProcessEvent(ctx, evt, commit)
			if err != nil {
				return nil, err
			}
			instance = s
			return result, nil
		},
		opts...,
	)

	result, err := future.Wait(ctx)
	if err != nil {
		log.WarnContext(ctx, "process event failed",
			"process", def.Name, "instance_id", id, "event_type", evt.Type,
			"event_id", evt.ID, "command_id", commandID, "error", err)
		response.HandleError(w, err, requestID(r))
		return
	}

	response.JSON(w, http.StatusOK, models.ProcessEventResponse{
		CommandID: commandID,
		EventID:   evt.ID,
		Result:    result,
		State:     instance.State(),
	})
}

// GetInstance handles GET /api/v1/processes/{process}/instances/{id}.
func (h *ProcessHandler) GetInstance(w http.ResponseWriter, r *http.Request) {
	def, id, ok := h.resolve(w, r)
	if !ok {
		return
	}

	instance, err := aggregate.Load(r.Context(), h.repo, def.Factory(h.sagaOpts...), def.StreamID(id))
	if err != nil {
		h.logger.WarnContext(r.Context(), "load instance failed", "process", def.Name, "instance_id", id, "error", err)
		response.HandleError(w, fmt.Errorf("%w: %w", response.ErrServiceUnavailable, err), requestID(r))
		return
	}
	if instance.Version() == 0 {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "instance not found", requestID(r))
		return
	}
	response.JSON(w, http.StatusOK, instance.State())
}

// GetEvents handles GET /api/v1/processes/{process}/instances/{id}/events.
func (h *ProcessHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	def, id, ok := h.resolve(w, r)
	if !ok {
		return
	}

	streamID := def.StreamID(id)
	events, err := h.repo.History(r.Context(), streamID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "load history failed", "process", def.Name, "instance_id", id, "error", err)
		response.HandleError(w, fmt.Errorf("%w: %w", response.ErrServiceUnavailable, err), requestID(r))
		return
	}
	if len(events) == 0 {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "instance not found", requestID(r))
		return
	}

	response.JSON(w, http.StatusOK, models.EventHistoryResponse{
		Process:    def.Name,
		InstanceID: id,
		StreamID:   streamID,
		Version:    events[len(events)-1].Version,
		Events:     events,
	})
}

func (h *ProcessHandler) resolve(w http.ResponseWriter, r *http.Request) (*saga.Definition, string, bool) {
	def, err := h.registry.Get(chi.URLParam(r, "process"))
	if err != nil {
		response.HandleError(w, err, requestID(r))
		return nil, "", false
	}
	id := chi.URLParam(r, "id")
	if !validInstanceID(id) {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid instance id", requestID(r))
		return nil, "", false
	}
	return def, id, true
}

func validInstanceID(id string) bool {
	if id == "" || len(id) > maxInstanceIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

func requestID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}
