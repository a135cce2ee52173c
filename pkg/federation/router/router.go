/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package router maps named URI templates to request paths and back. It is
// the single source of truth for the URL shapes of a federation instance:
// every URI handed out in responses is built from a registered template.
package router

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/gorilla/mux"
)

// Names of the well-known routes. Object routes are named by their type IRI
// with the "object:" prefix.
const (
	RouteWebfinger   = "webfinger"
	RouteNodeInfo    = "nodeInfo"
	RouteNodeInfoJrd = "nodeInfoJrd"
	RouteActor       = "actor"
	RouteInbox       = "inbox"
	RouteSharedInbox = "sharedInbox"
	RouteOutbox      = "outbox"
	RouteFollowing   = "following"
	RouteFollowers   = "followers"

	// ObjectRoutePrefix prefixes the type IRI in the name of an object route.
	ObjectRoutePrefix = "object:"
)

var variableRegex = regexp.MustCompile(`\{([^}:]+)(?::[^}]*)?\}`)

// Match is the result of routing a path.
type Match struct {
	Name   string
	Values map[string]string
}

type route struct {
	name     string
	template string
	muxRoute *mux.Route

	// specificity is the number of literal (non-variable) characters in the
	// template. More literal characters means a more specific route.
	specificity int

	order int
}

// Router registers URI templates under unique names, matches request paths
// against them, and expands them back into URLs.
//
// A router is populated during setup and read-only afterwards; it is not
// safe to call Add concurrently with Route or Build.
type Router struct {
	mux    *mux.Router
	routes map[string]*route
	sorted []*route
}

// New returns a new empty router.
func New() *Router {
	return &Router{
		mux:    mux.NewRouter(),
		routes: make(map[string]*route),
	}
}

// Add registers the URI template under the given name and returns the set of
// variable names the template declares. The template must start with '/'.
// Registering a second template under an existing name is a setup error.
func (r *Router) Add(template, name string) ([]string, error) {
	if !strings.HasPrefix(template, "/") {
		return nil, fmt.Errorf("route template [%s] must start with '/'", template)
	}

	if _, ok := r.routes[name]; ok {
		return nil, fmt.Errorf("route [%s] is already registered", name)
	}

	muxRoute := r.mux.NewRoute().Path(template).Name(name)
	if err := muxRoute.GetError(); err != nil {
		return nil, fmt.Errorf("invalid route template [%s]: %w", template, err)
	}

	var variables []string

	literalLength := len(template)

	for _, m := range variableRegex.FindAllStringSubmatch(template, -1) {
		variables = append(variables, m[1])
		literalLength -= len(m[0])
	}

	rt := &route{
		name:        name,
		template:    template,
		muxRoute:    muxRoute,
		specificity: literalLength,
		order:       len(r.routes),
	}

	r.routes[name] = rt

	r.sorted = append(r.sorted, rt)
	sort.SliceStable(r.sorted, func(i, j int) bool {
		if r.sorted[i].specificity != r.sorted[j].specificity {
			return r.sorted[i].specificity > r.sorted[j].specificity
		}

		return r.sorted[i].order < r.sorted[j].order
	})

	return variables, nil
}

// Has returns true if a route is registered under the given name.
func (r *Router) Has(name string) bool {
	_, ok := r.routes[name]

	return ok
}

// Route matches the given path against the registered templates. The most
// specific matching template wins; ties are broken by registration order.
func (r *Router) Route(path string) (*Match, bool) {
	req := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Path: path},
	}

	for _, rt := range r.sorted {
		var m mux.RouteMatch

		if rt.muxRoute.Match(req, &m) {
			values := m.Vars
			if values == nil {
				values = make(map[string]string)
			}

			return &Match{Name: rt.name, Values: values}, true
		}
	}

	return nil, false
}

// Build expands the named template with the given variable values and
// returns the resulting path. Missing variables or an unknown name return
// false.
func (r *Router) Build(name string, values map[string]string) (string, bool) {
	rt, ok := r.routes[name]
	if !ok {
		return "", false
	}

	pairs := make([]string, 0, len(values)*2)

	for k, v := range values {
		pairs = append(pairs, k, v)
	}

	u, err := rt.muxRoute.URLPath(pairs...)
	if err != nil {
		return "", false
	}

	return u.Path, true
}
