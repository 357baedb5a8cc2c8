package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goclaw/sagaflow/pkg/aggregate"
	"github.com/goclaw/sagaflow/pkg/api/models"
	"github.com/goclaw/sagaflow/pkg/api/response"
	"github.com/goclaw/sagaflow/pkg/command"
	"github.com/goclaw/sagaflow/pkg/event"
	"github.com/goclaw/sagaflow/pkg/eventbus"
	"github.com/goclaw/sagaflow/pkg/eventstore"
	"github.com/goclaw/sagaflow/pkg/eventstore/memory"
	"github.com/goclaw/sagaflow/pkg/saga"
)

// paymentProcess builds: pending --pay--> paid, with two overlapping
// transitions on "Go" so that conflicts can be provoked.
func paymentProcess(seen *atomic.Value) *saga.Definition {
	pending := saga.NewStage("pending")
	paid := saga.NewStage("paid")
	stuck := saga.NewStage("stuck")

	pending.AddTransition(saga.NewTransition("pay",
		func(_ context.Context, in *saga.Input) bool { return in.Event.Type == "PaymentReceived" },
		"OrderPaid",
		saga.WithAction(func(_ context.Context, in *saga.Input) (any, error) {
			if seen != nil {
				seen.Store(in.Commit)
			}
			return "charged", nil
		}),
	).SetDestination(paid))

	goes := func(_ context.Context, in *saga.Input) bool { return in.Event.Type == "Go" }
	pending.AddTransition(saga.NewTransition("left", goes, "WentLeft").SetDestination(stuck))
	pending.AddTransition(saga.NewTransition("right", goes, "WentRight").SetDestination(stuck))

	return saga.NewDefinition("payments", pending, pending, paid, stuck)
}

type failingStore struct {
	*memory.Store
	appends atomic.Int32
}

func (s *failingStore) Append(context.Context, string, uint64, []event.Event) (uint64, error) {
	s.appends.Add(1)
	return 0, errors.New("disk unavailable")
}

type processFixture struct {
	router http.Handler
	store  eventstore.Store
	commit *atomic.Value
}

func newProcessFixture(t *testing.T, store eventstore.Store, opts ...ProcessHandlerOption) *processFixture {
	t.Helper()
	commit := &atomic.Value{}
	registry := saga.NewRegistry()
	require.NoError(t, registry.Register(paymentProcess(commit)))

	handler := NewProcessHandler(registry, aggregate.NewRepository(store), opts...)
	r := chi.NewRouter()
	r.Route("/api/v1/processes", func(r chi.Router) {
		r.Get("/", handler.ListProcesses)
		r.Get("/{process}", handler.GetProcess)
		r.Get("/{process}/instances/{id}", handler.GetInstance)
		r.Post("/{process}/instances/{id}/events", handler.ProcessEvent)
		r.Get("/{process}/instances/{id}/events", handler.GetEvents)
	})
	return &processFixture{router: r, store: store, commit: commit}
}

func (f *processFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			_ = json.NewEncoder(&buf).Encode(v)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) response.ErrorDetail {
	t.Helper()
	var body response.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestProcessHandler_ProcessEventTransitions(t *testing.T) {
	f := newProcessFixture(t, memory.New())
	const path = "/api/v1/processes/payments/instances/o-1/events"

	rec := f.do(http.MethodPost, path, models.ProcessEventRequest{
		EventID:   "evt-1",
		EventType: "PaymentReceived",
		Payload:   json.RawMessage(`{"amount":12}`),
		Metadata:  map[string]string{"tenant": "acme"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.ProcessEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.CommandID)
	assert.Equal(t, "evt-1", resp.EventID)
	assert.Equal(t, "charged", resp.Result)
	assert.Equal(t, "paid", resp.State.Stage)
	assert.True(t, resp.State.Terminal)
	assert.Equal(t, "payments", resp.State.Process)
	assert.Equal(t, "payments/o-1", resp.State.ID)

	commit, ok := f.commit.Load().(map[string]string)
	require.True(t, ok, "action receives the commit handle")
	assert.Equal(t, resp.CommandID, commit[MetaCommandID])
	assert.Equal(t, "evt-1", commit[MetaTriggerEventID])
	assert.Equal(t, "acme", commit["tenant"])

	events, err := f.store.Load(context.Background(), "payments/o-1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	for _, evt := range events {
		assert.Equal(t, resp.CommandID, evt.Metadata[MetaCommandID])
		assert.Equal(t, "evt-1", evt.Metadata[MetaTriggerEventID])
	}

	// Redelivery of the same event id changes nothing.
	before := len(events)
	rec = f.do(http.MethodPost, path, models.ProcessEventRequest{EventID: "evt-1", EventType: "PaymentReceived"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	events, err = f.store.Load(context.Background(), "payments/o-1", 0)
	require.NoError(t, err)
	assert.Len(t, events, before)
}

func TestProcessHandler_ProcessEventRejectsBadInput(t *testing.T) {
	f := newProcessFixture(t, memory.New())

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown process", "/api/v1/processes/nope/instances/o-1/events", models.ProcessEventRequest{EventType: "X"}, http.StatusNotFound, response.ErrCodeNotFound},
		{"bad instance id", "/api/v1/processes/payments/instances/o%201/events", models.ProcessEventRequest{EventType: "X"}, http.StatusBadRequest, response.ErrCodeBadRequest},
		{"malformed body", "/api/v1/processes/payments/instances/o-1/events", "{", http.StatusBadRequest, response.ErrCodeBadRequest},
		{"missing type", "/api/v1/processes/payments/instances/o-1/events", models.ProcessEventRequest{}, http.StatusBadRequest, response.ErrCodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestProcessHandler_TransitionConflict(t *testing.T) {
	f := newProcessFixture(t, memory.New())

	rec := f.do(http.MethodPost, "/api/v1/processes/payments/instances/o-2/events",
		models.ProcessEventRequest{EventType: "Go"})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	detail := decodeError(t, rec)
	assert.Equal(t, response.ErrCodeTransitionConflict, detail.Code)
	assert.Equal(t, "pending", detail.Details["stage"])

	// The conflict is recorded in the stream while the stage stays put.
	rec = f.do(http.MethodGet, "/api/v1/processes/payments/instances/o-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state saga.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "pending", state.Stage)
	assert.NotZero(t, state.Version)
}

func TestProcessHandler_CommitRetriesExhausted(t *testing.T) {
	store := &failingStore{Store: memory.New()}
	f := newProcessFixture(t, store, WithCommandOptions(func() []command.Option {
		return []command.Option{command.WithRetryStrategy(command.Counter(2))}
	}))

	rec := f.do(http.MethodPost, "/api/v1/processes/payments/instances/o-3/events",
		models.ProcessEventRequest{EventType: "PaymentReceived"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())

	detail := decodeError(t, rec)
	assert.Equal(t, response.ErrCodeRetriesExhausted, detail.Code)
	assert.Equal(t, string(command.CategoryCommit), detail.Details["tryWithErrorType"])
	assert.Equal(t, int32(3), store.appends.Load())
}

func TestProcessHandler_Reads(t *testing.T) {
	f := newProcessFixture(t, memory.New())

	rec := f.do(http.MethodGet, "/api/v1/processes/payments/instances/o-4", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodGet, "/api/v1/processes/payments/instances/o-4/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/processes/payments/instances/o-4/events",
		models.ProcessEventRequest{EventType: "Noted"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/v1/processes/payments/instances/o-4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state saga.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "pending", state.Stage)
	require.Len(t, state.Enqueued, 1)
	assert.Equal(t, "Noted", state.Enqueued[0].Type)

	rec = f.do(http.MethodGet, "/api/v1/processes/payments/instances/o-4/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history models.EventHistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Equal(t, "payments/o-4", history.StreamID)
	assert.Equal(t, "o-4", history.InstanceID)
	assert.Equal(t, uint64(len(history.Events)), history.Version)
}

func TestProcessHandler_ListAndGetProcess(t *testing.T) {
	f := newProcessFixture(t, memory.New())

	rec := f.do(http.MethodGet, "/api/v1/processes/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list models.ProcessListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "payments", list.Processes[0].Name)
	assert.Equal(t, "pending", list.Processes[0].Initial)

	rec = f.do(http.MethodGet, "/api/v1/processes/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.ProcessSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Len(t, summary.Stages, 3)

	rec = f.do(http.MethodGet, "/api/v1/processes/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidInstanceID(t *testing.T) {
	assert.True(t, validInstanceID("order-1_A.b"))
	assert.False(t, validInstanceID(""))
	assert.False(t, validInstanceID("a/b"))
	assert.False(t, validInstanceID(string(bytes.Repeat([]byte("a"), maxInstanceIDLength+1))))
}

func TestProcessHandler_InputSchemas(t *testing.T) {
	schemas := eventbus.NewSchemaRouter()
	require.NoError(t, schemas.RegisterPayloadSchema(eventbus.PayloadSchema{
		EventType: "PaymentReceived",
		Required:  []string{"amount"},
	}))
	f := newProcessFixture(t, memory.New(), WithInputSchemas(schemas))
	const path = "/api/v1/processes/payments/instances/o-5/events"

	rec := f.do(http.MethodPost, path, models.ProcessEventRequest{
		EventType: "PaymentReceived",
		Payload:   json.RawMessage(`{"currency":"EUR"}`),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, response.ErrCodeValidationFailed, detail.Code)
	assert.Contains(t, detail.Message, "amount")

	rec = f.do(http.MethodPost, path, models.ProcessEventRequest{
		EventType: "PaymentReceived",
		Payload:   json.RawMessage(`{"amount":3}`),
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
