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

// Package metrics instruments the core's request lifecycle, navigation
// durations and auth-challenge counts for Prometheus. Every collector is
// held behind a *Registry whose methods are nil-safe, so components can
// be constructed with a nil registry in tests without guarding every
// call site.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "browserkit"

// Registry owns this core's Prometheus collectors. A nil *Registry is
// valid: every Observe*/Record* method is a no-op on it.
type Registry struct {
	requestsTotal      *prometheus.CounterVec
	authChallenges     *prometheus.CounterVec
	navigationDuration *prometheus.HistogramVec
}

// NewRegistry constructs a Registry and registers its collectors against
// reg. Pass prometheus.NewRegistry() for an isolated registry (tests, or
// multiple cores in one process); pass prometheus.DefaultRegisterer to
// expose through the global /metrics handler.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "CDP network requests observed, by lifecycle outcome.",
		}, []string{"outcome"}),
		authChallenges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_challenges_total",
			Help:      "Fetch.authRequired auth challenges, by response.",
		}, []string{"response"}),
		navigationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "navigation_duration_seconds",
			Help:      "Time from navigation command to NavigationWatcher resolution.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
}

var defaultRegistry = NewRegistry(prometheus.DefaultRegisterer)

// Default returns the process-wide Registry, registered against
// prometheus.DefaultRegisterer. Components default to this unless given
// one explicitly.
func Default() *Registry { return defaultRegistry }

// Handler returns an http.Handler serving the default registry in the
// Prometheus exposition format, for a caller that wants to mount it.
func Handler() http.Handler { return promhttp.Handler() }

func (r *Registry) ObserveRequestStarted() {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues("started").Inc()
}

func (r *Registry) ObserveRequestFinished() {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues("finished").Inc()
}

func (r *Registry) ObserveRequestFailed() {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues("failed").Inc()
}

// ObserveAuthChallenge records one Fetch.authRequired auth challenge's
// response disposition, as passed by the caller (NetworkManager passes
// the lowercased protocol value: "default", "providecredentials" or
// "cancelauth").
func (r *Registry) ObserveAuthChallenge(response string) {
	if r == nil {
		return
	}
	r.authChallenges.WithLabelValues(response).Inc()
}

// ObserveNavigationDuration records how long a navigation took to
// resolve, labeled "ok" or "error" depending on whether it failed.
func (r *Registry) ObserveNavigationDuration(seconds float64, failed bool) {
	if r == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	r.navigationDuration.WithLabelValues(outcome).Observe(seconds)
}
