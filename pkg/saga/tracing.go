package saga

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const sagaTracerName = "sagaflow.saga"

const spanSagaProcessEvent = "saga.process_event"

func sagaTracer() trace.Tracer {
	return otel.Tracer(sagaTracerName)
}
