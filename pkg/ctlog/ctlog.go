/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ctlog builds the control plane's base logger and threads it
// through context.Context, the same zap-backed, go-logr-bridged shape
// the teacher wires up in pkg/operator/operator.go (minus the
// configmap-watcher plumbing, which has no analogue outside a real
// Kubernetes cluster).
package ctlog

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

// New builds the base zap logger. Development mode gets human-readable
// console output; production gets JSON for log aggregation.
func New(development bool) *zap.Logger {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		// Logging construction failing is itself unrecoverable: there is
		// nowhere left to report the error.
		panic(err)
	}
	return logger
}

// IntoContext returns a context carrying logger as the component's logr.Logger.
func IntoContext(ctx context.Context, logger *zap.Logger) context.Context {
	return IntoContextLogr(ctx, zapr.NewLogger(logger))
}

// IntoContextLogr stashes an already-built logr.Logger, for callers
// (like pkg/api's request-id middleware) that derive a per-call logger
// with WithValues from the one already in context.
func IntoContextLogr(ctx context.Context, logger logr.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logr.Logger stashed by IntoContext, or a
// discard logger if none was set.
func FromContext(ctx context.Context) logr.Logger {
	if l, ok := ctx.Value(ctxKey{}).(logr.Logger); ok {
		return l
	}
	return logr.Discard()
}
