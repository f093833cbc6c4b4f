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

// Package cmd is a thin smoke-test harness over cdpcore: connect to a
// running Chromium-family browser's debugging endpoint, list its
// targets, or drive one navigation, then exit. It is explicitly not the
// package API - there is no selector engine or input synthesis here,
// only enough surface to exercise the core from a terminal.
package cmd

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/xMarkos/browserkit/internal/corelog"
)

const shutdownTimeout = 5 * time.Second

// globalState carries the flags and services every subcommand shares,
// the same role k6's rootCommand plays for its own subcommand tree.
type globalState struct {
	ctx    context.Context
	logger *corelog.Logger

	verbose    bool
	noColor    bool
	wsEndpoint string
	metricsAddr string
}

func newGlobalState(ctx context.Context) *globalState {
	return &globalState{ctx: ctx}
}

func (g *globalState) persistentPreRunE(cmd *cobra.Command, args []string) error {
	level := logrus.InfoLevel
	if g.verbose {
		level = logrus.DebugLevel
	}
	base := &logrus.Logger{
		Out:       os.Stderr,
		Formatter: &logrus.TextFormatter{DisableColors: g.noColor},
		Hooks:     make(logrus.LevelHooks),
		Level:     level,
	}
	g.logger = corelog.New(base, nil)
	return nil
}

func (g *globalState) persistentFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&g.noColor, "no-color", false, "disable colored log output")
	flags.StringVarP(&g.wsEndpoint, "ws-endpoint", "w", "", "browser debugging websocket URL (ws://...)")
	flags.StringVar(&g.metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address while the command runs")
	return flags
}

// newRootCommand builds the "browserkit" command tree: connect, navigate
// and targets, sharing one globalState across PersistentPreRunE.
func newRootCommand(g *globalState) *cobra.Command {
	root := &cobra.Command{
		Use:               "browserkit",
		Short:             "smoke-test harness for the browserkit CDP core",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: g.persistentPreRunE,
	}
	root.PersistentFlags().AddFlagSet(g.persistentFlagSet())
	root.AddCommand(
		getConnectCmd(g),
		getNavigateCmd(g),
		getTargetsCmd(g),
	)
	return root
}

// Execute runs the browserkit CLI to completion. Called from main.main.
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := newGlobalState(ctx)
	root := newRootCommand(g)

	if err := root.Execute(); err != nil {
		if g.logger != nil {
			g.logger.Errorf("cmd", "%s", err)
		}
		os.Exit(1)
	}
}
