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

func getTargetsCmd(g *globalState) *cobra.Command {
	targetsCmd := &cobra.Command{
		Use:   "targets",
		Short: "List the browser's current targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.wsEndpoint == "" {
				return fmt.Errorf("targets: --ws-endpoint is required")
			}

			stop := maybeServeMetrics(g)
			defer stop()

			browser, err := cdpcore.Connect(g.ctx, g.wsEndpoint, g.logger, nil)
			if err != nil {
				return fmt.Errorf("targets: %w", err)
			}
			defer browser.Disconnect()

			for _, t := range browser.Targets() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %-20s usable=%-5t %s\n",
					t.ID(), t.Kind(), t.Usable(), t.URL())
			}
			return nil
		},
	}
	return targetsCmd
}
