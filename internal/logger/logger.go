/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

// Package logger carries a request's logger in a context.
package logger

import (
	"context"

	"go.uber.org/zap"
)

type requestLogCtxKey int

// requestLogKey is a context's key to store a request's logger.
const requestLogKey requestLogCtxKey = iota

// FromContext returns a request's logger stored in a context.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	v := ctx.Value(requestLogKey)
	if v == nil {
		return zap.NewNop().Sugar()
	}
	return v.(*zap.SugaredLogger)
}

// WithLogger returns context.Context with a logger's instance.
func WithLogger(ctx context.Context, log *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, requestLogKey, log)
}
