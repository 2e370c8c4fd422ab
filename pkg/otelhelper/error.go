package otelhelper

import (
	"github.com/dukex/crmflow/pkg/engineerr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError records err on the span and marks it failed. Engine errors also carry their
// kind and action code on the recorded exception event.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if kind := engineerr.KindOf(err); kind != "" {
		attrs = append(attrs, attribute.String(ErrorKindKey, string(kind)))
	}

	if code := engineerr.CodeOf(err); code != "" {
		attrs = append(attrs, attribute.String(ActionCodeKey, string(code)))
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}
