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

package cmd

import (
	"context"
	"net/http"

	"github.com/xMarkos/browserkit/internal/metrics"
)

// maybeServeMetrics starts the /metrics HTTP handler in the background
// when --metrics-addr was given, returning a func that shuts it down.
// When the flag is unset it returns a no-op stop func immediately.
func maybeServeMetrics(g *globalState) func() {
	if g.metricsAddr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: g.metricsAddr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Errorf("cmd", "metrics server: %s", err)
		}
	}()
	g.logger.Infof("cmd", "serving Prometheus metrics on %s/metrics", g.metricsAddr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
