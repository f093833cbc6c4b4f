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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xMarkos/browserkit/cdpcore"
)

func getConnectCmd(g *globalState) *cobra.Command {
	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a browser's debugging endpoint and print its version",
		Long: `Connect dials the browser's websocket debugging endpoint given by
--ws-endpoint, prints the browser's product version, user agent and
tracked target count, then disconnects without closing the browser.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.wsEndpoint == "" {
				return fmt.Errorf("connect: --ws-endpoint is required")
			}

			stop := maybeServeMetrics(g)
			defer stop()

			browser, err := cdpcore.Connect(g.ctx, g.wsEndpoint, g.logger, nil)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer browser.Disconnect()

			version, err := browser.Version(g.ctx)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			userAgent, err := browser.UserAgent(g.ctx)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "version:    %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "user-agent: %s\n", userAgent)
			fmt.Fprintf(cmd.OutOrStdout(), "targets:    %d\n", len(browser.Targets()))
			return nil
		},
	}
	return connectCmd
}
