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

	"github.com/xMarkos/browserkit/browseropts"
	"github.com/xMarkos/browserkit/cdpcore"
)

func getNavigateCmd(g *globalState) *cobra.Command {
	var waitUntil []string
	var timeoutMs uint32

	navigateCmd := &cobra.Command{
		Use:   "navigate <url>",
		Short: "Open a new page, navigate it to <url>, and print the response status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.wsEndpoint == "" {
				return fmt.Errorf("navigate: --ws-endpoint is required")
			}

			stop := maybeServeMetrics(g)
			defer stop()

			names := make([]browseropts.WaitUntilName, 0, len(waitUntil))
			for _, w := range waitUntil {
				names = append(names, browseropts.WaitUntilName(w))
			}
			opts, err := browseropts.NavigationOptions{WaitUntil: names, TimeoutMs: timeoutMs}.ToCore()
			if err != nil {
				return fmt.Errorf("navigate: %w", err)
			}

			browser, err := cdpcore.Connect(g.ctx, g.wsEndpoint, g.logger, nil)
			if err != nil {
				return fmt.Errorf("navigate: %w", err)
			}
			defer browser.Disconnect()

			page, err := browser.NewPage(g.ctx)
			if err != nil {
				return fmt.Errorf("navigate: %w", err)
			}
			defer page.Close()

			resp, err := page.Goto(g.ctx, args[0], opts)
			if err != nil {
				return fmt.Errorf("navigate: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "url: %s\n", page.MainFrame().URL())
			if resp == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "status: (no tracked response)")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: %d\n", resp.Status())
			return nil
		},
	}

	navigateCmd.Flags().StringSliceVar(&waitUntil, "wait-until", []string{"load"},
		"comma-separated subset of load,dom_content_loaded,network_idle_0,network_idle_2")
	navigateCmd.Flags().Uint32Var(&timeoutMs, "timeout-ms", 30000, "navigation timeout in milliseconds, 0 = no timeout")

	return navigateCmd
}
