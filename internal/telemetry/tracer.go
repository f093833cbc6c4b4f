/*
 *
 * browserkit - a remote browser-automation client core
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package telemetry wires optional OpenTelemetry spans around the core's
// suspension points (Session.Execute, navigation waits, target attach).
// Tracing is structurally optional: every call site obtains its tracer
// through Tracer(), which resolves to otel's global no-op implementation
// until a real TracerProvider is installed via SetTracerProvider, so the
// dependency is always wired but never mandatory.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/xMarkos/browserkit"

// SetTracerProvider installs tp as the OpenTelemetry global provider.
// Calling this before Connect is how a caller opts into real spans;
// skipping it leaves every span a no-op.
func SetTracerProvider(tp trace.TracerProvider) {
	otel.SetTracerProvider(tp)
}

// Tracer returns the package-wide tracer, resolved lazily against
// whatever TracerProvider is currently installed.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span named name under ctx using the package tracer,
// attaching attrs as span attributes. Callers must defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError records err on span if non-nil, without ending the span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}
