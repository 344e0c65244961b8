/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

// Package server provides an HTTP router that lets packages register their routes under a prefix.
package server

import (
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/justinas/alice"
)

// RouteAdder is a package's HTTP handler that registers its routes.
type RouteAdder interface {
	AddRoutes(apply func(m, p string, h http.Handler, mws ...func(http.Handler) http.Handler))
}

// Router is an HTTP router with middlewares that are applied to every request.
type Router struct {
	router  *httprouter.Router
	handler http.Handler
}

// NewRouter returns a new router. Middlewares are applied in the specified order.
func NewRouter(mws ...func(http.Handler) http.Handler) *Router {
	router := httprouter.New()
	return &Router{router: router, handler: chain(mws).Then(router)}
}

// AddRoutes registers routes of a handler under a path prefix.
func (r *Router) AddRoutes(h RouteAdder, prefix string) {
	h.AddRoutes(func(m, p string, h http.Handler, mws ...func(http.Handler) http.Handler) {
		r.Handle(m, joinPath(prefix, p), chain(mws).Then(h))
	})
}

// Handle registers a handler for a method and path.
func (r *Router) Handle(m, p string, h http.Handler) {
	r.router.Handler(m, p, h)
}

// ServeHTTP implements the http.Handler interface.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// PathParam returns a value of a path parameter of the request that is being handled.
func PathParam(ctx context.Context, name string) string {
	return httprouter.ParamsFromContext(ctx).ByName(name)
}

func chain(mws []func(http.Handler) http.Handler) alice.Chain {
	cs := make([]alice.Constructor, 0, len(mws))
	for _, mw := range mws {
		cs = append(cs, mw)
	}
	return alice.New(cs...)
}

func joinPath(prefix, p string) string {
	joined := path.Join("/", prefix, p)
	if strings.HasSuffix(p, "/") && joined != "/" {
		joined += "/"
	}
	return joined
}
