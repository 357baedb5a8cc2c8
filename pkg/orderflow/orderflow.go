// Package orderflow defines the order fulfilment process served by sagaflow.
//
//	awaiting_payment --payment_captured--> awaiting_shipment --shipped--> completed
//	       |                                      |
//	       +--payment_declined--> cancelled <-----+--cancel_requested
package orderflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/goclaw/sagaflow/pkg/event"
	"github.com/goclaw/sagaflow/pkg/eventbus"
	"github.com/goclaw/sagaflow/pkg/saga"
)

// ProcessName is the registry name of the process.
const ProcessName = "orderflow"

// Stage names.
const (
	StageAwaitingPayment  = "awaiting_payment"
	StageAwaitingShipment = "awaiting_shipment"
	StageCompleted        = "completed"
	StageCancelled        = "cancelled"
)

// Inbound event types.
const (
	EventOrderPlaced           = "OrderPlaced"
	EventPaymentCaptured       = "PaymentCaptured"
	EventPaymentDeclined       = "PaymentDeclined"
	EventItemPacked            = "ItemPacked"
	EventShipmentDispatched    = "ShipmentDispatched"
	EventCancellationRequested = "CancellationRequested"
)

// Output event types.
const (
	EventOrderPaid      = "OrderPaid"
	EventOrderShipped   = "OrderShipped"
	EventOrderCancelled = "OrderCancelled"
)

// ErrPaymentRejected is returned by a PaymentRecorder that refuses a capture.
var ErrPaymentRejected = errors.New("orderflow: payment rejected")

// OrderPlaced is the payload of EventOrderPlaced.
type OrderPlaced struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
}

// PaymentCaptured is the payload of EventPaymentCaptured.
type PaymentCaptured struct {
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
}

// ShipmentDispatched is the payload of EventShipmentDispatched.
type ShipmentDispatched struct {
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier,omitempty"`
}

// Reason is the payload of EventPaymentDeclined and EventCancellationRequested.
type Reason struct {
	Reason string `json:"reason"`
}

// Receipt is the action result of payment_captured.
type Receipt struct {
	OrderID   string  `json:"order_id"`
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
	// Reference is the ledger reference returned by the PaymentRecorder.
	Reference string `json:"reference,omitempty"`
}

// Shipment is the action result and OrderShipped payload of shipped.
type Shipment struct {
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier,omitempty"`
	Items          int    `json:"items"`
}

// Cancellation is the action result and OrderCancelled payload of
// payment_declined and cancel_requested.
type Cancellation struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// PaymentRecorder books a captured payment. commandID is stable across
// retries of one command and should be used as the idempotency key.
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, commandID string, receipt Receipt) (reference string, err error)
}

// PaymentRecorderFunc adapts a function to PaymentRecorder.
type PaymentRecorderFunc func(ctx context.Context, commandID string, receipt Receipt) (string, error)

// RecordPayment calls f.
func (f PaymentRecorderFunc) RecordPayment(ctx context.Context, commandID string, receipt Receipt) (string, error) {
	return f(ctx, commandID, receipt)
}

// Option configures Definition.
type Option func(*options)

type options struct {
	payments PaymentRecorder
}

// WithPaymentRecorder books captures through r before OrderPaid is recorded.
func WithPaymentRecorder(r PaymentRecorder) Option {
	return func(o *options) {
		o.payments = r
	}
}

// Definition builds the order fulfilment process.
func Definition(opts ...Option) *saga.Definition {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	awaitingPayment := saga.NewStage(StageAwaitingPayment)
	awaitingShipment := saga.NewStage(StageAwaitingShipment)
	completed := saga.NewStage(StageCompleted)
	cancelled := saga.NewStage(StageCancelled)

	awaitingPayment.On(EventOrderPlaced, func(evt event.Event, _ []event.Event, acc saga.Accumulator) error {
		var p OrderPlaced
		if err := evt.Decode(&p); err != nil {
			return fmt.Errorf("orderflow: %s: %w", EventOrderPlaced, err)
		}
		acc.Set("order_id", p.OrderID)
		acc.Set("amount", p.Amount)
		return nil
	})

	awaitingPayment.AddTransition(saga.NewTransition("payment_captured",
		func(_ context.Context, in *saga.Input) bool {
			return in.Event.Type == EventPaymentCaptured && in.Accumulator.String("order_id") != ""
		},
		EventOrderPaid,
		saga.WithAction(func(ctx context.Context, in *saga.Input) (any, error) {
			var p PaymentCaptured
			if err := in.Event.Decode(&p); err != nil {
				return nil, fmt.Errorf("orderflow: %s: %w", EventPaymentCaptured, err)
			}
			receipt := Receipt{
				OrderID:   in.Accumulator.String("order_id"),
				PaymentID: p.PaymentID,
				Amount:    p.Amount,
			}
			if receipt.Amount == 0 {
				receipt.Amount = in.Accumulator.Float("amount")
			}
			if o.payments != nil {
				ref, err := o.payments.RecordPayment(ctx, commandID(in.Commit), receipt)
				if err != nil {
					return nil, err
				}
				receipt.Reference = ref
			}
			return receipt, nil
		}),
		saga.WithPayload(actionResult),
	).SetDestination(awaitingShipment))

	awaitingPayment.AddTransition(saga.NewTransition("payment_declined",
		isType(EventPaymentDeclined),
		EventOrderCancelled,
		saga.WithAction(cancel(StageAwaitingPayment)),
		saga.WithPayload(actionResult),
	).SetDestination(cancelled))

	awaitingShipment.On(EventItemPacked, func(_ event.Event, _ []event.Event, acc saga.Accumulator) error {
		acc.Set("items", acc.Int("items")+1)
		return nil
	})

	awaitingShipment.AddTransition(saga.NewTransition("shipped",
		func(_ context.Context, in *saga.Input) bool {
			return in.Event.Type == EventShipmentDispatched && in.Accumulator.Int("items") > 0
		},
		EventOrderShipped,
		saga.WithAction(func(_ context.Context, in *saga.Input) (any, error) {
			var p ShipmentDispatched
			if err := in.Event.Decode(&p); err != nil {
				return nil, fmt.Errorf("orderflow: %s: %w", EventShipmentDispatched, err)
			}
			return Shipment{
				TrackingNumber: p.TrackingNumber,
				Carrier:        p.Carrier,
				Items:          int(in.Accumulator.Int("items")),
			}, nil
		}),
		saga.WithPayload(actionResult),
	).SetDestination(completed))

	awaitingShipment.AddTransition(saga.NewTransition("cancel_requested",
		isType(EventCancellationRequested),
		EventOrderCancelled,
		saga.WithAction(cancel(StageAwaitingShipment)),
		saga.WithPayload(actionResult),
	).SetDestination(cancelled))

	return saga.NewDefinition(ProcessName, awaitingPayment,
		awaitingPayment, awaitingShipment, completed, cancelled)
}

// InputSchemas lists the payload fields inbound events must carry.
func InputSchemas() []eventbus.PayloadSchema {
	return []eventbus.PayloadSchema{
		{EventType: EventOrderPlaced, Required: []string{"order_id", "amount"}},
		{EventType: EventPaymentCaptured, Required: []string{"payment_id"}},
		{EventType: EventShipmentDispatched, Required: []string{"tracking_number"}},
	}
}

// OutputSchemas lists the payload fields of the events the process records.
func OutputSchemas() []eventbus.PayloadSchema {
	return []eventbus.PayloadSchema{
		{EventType: EventOrderPaid, Required: []string{"order_id", "payment_id", "amount"}},
		{EventType: EventOrderShipped, Required: []string{"tracking_number", "items"}},
		{EventType: EventOrderCancelled, Required: []string{"stage", "reason"}},
	}
}

func isType(eventType string) saga.Decider {
	return func(_ context.Context, in *saga.Input) bool {
		return in.Event.Type == eventType
	}
}

// cancel decodes the optional Reason; without one the event type is the reason.
func cancel(stage string) saga.Action {
	return func(_ context.Context, in *saga.Input) (any, error) {
		var p Reason
		if err := in.Event.Decode(&p); err != nil {
			return nil, fmt.Errorf("orderflow: %s: %w", in.Event.Type, err)
		}
		if p.Reason == "" {
			p.Reason = in.Event.Type
		}
		return Cancellation{Stage: stage, Reason: p.Reason}, nil
	}
}

func actionResult(_ *saga.Input, result any) any {
	return result
}

// commandID extracts the command id from the commit handle the API passes.
func commandID(commit any) string {
	if m, ok := commit.(map[string]string); ok {
		return m["command_id"]
	}
	return ""
}
