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

// Package corelog provides the structured, category-filterable logger
// used by every component of the browser-automation core.
package corelog

import (
	"fmt"
	"io"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger with per-category filtering and
// elapsed-time-between-calls bookkeeping, matching the texture of the
// category-tagged logging used throughout this core.
type Logger struct {
	Log *logrus.Logger

	mu             sync.Mutex
	lastLogCall    int64
	categoryFilter *regexp.Regexp
}

// New creates a logger writing through the given logrus.Logger. categoryFilter,
// when non-nil, restricts output to categories matching the pattern - e.g.
// "^networkmanager$" to silence everything but the network manager.
func New(logger *logrus.Logger, categoryFilter *regexp.Regexp) *Logger {
	return &Logger{Log: logger, categoryFilter: categoryFilter}
}

// NewNull creates a logger that discards everything. Useful as the default
// when a caller doesn't care about diagnostics.
func NewNull() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(log, nil)
}

func (l *Logger) Tracef(category, msg string, args ...interface{}) {
	l.Logf(logrus.TraceLevel, category, msg, args...)
}

func (l *Logger) Debugf(category, msg string, args ...interface{}) {
	l.Logf(logrus.DebugLevel, category, msg, args...)
}

func (l *Logger) Infof(category, msg string, args ...interface{}) {
	l.Logf(logrus.InfoLevel, category, msg, args...)
}

func (l *Logger) Warnf(category, msg string, args ...interface{}) {
	l.Logf(logrus.WarnLevel, category, msg, args...)
}

func (l *Logger) Errorf(category, msg string, args ...interface{}) {
	l.Logf(logrus.ErrorLevel, category, msg, args...)
}

// Logf logs msg at level under category, provided the logger's configured
// level admits it and categoryFilter (if set) matches.
func (l *Logger) Logf(level logrus.Level, category, msg string, args ...interface{}) {
	if l == nil {
		return
	}
	if l.Log.GetLevel() < level {
		return
	}
	if l.categoryFilter != nil && !l.categoryFilter.MatchString(category) {
		return
	}

	l.mu.Lock()
	now := time.Now().UnixNano() / int64(time.Millisecond)
	elapsed := now - l.lastLogCall
	l.lastLogCall = now
	l.mu.Unlock()

	if l.Log.Out == io.Discard {
		return
	}

	l.Log.WithFields(logrus.Fields{
		"category":  category,
		"elapsed":   fmt.Sprintf("%dms", elapsed),
		"goroutine": goroutineID(),
	}).Logf(level, msg, args...)
}

// DebugMode reports whether the logger's level admits Debug or lower.
func (l *Logger) DebugMode() bool {
	return l.Log.GetLevel() >= logrus.DebugLevel
}

// ReportCaller decorates entries with the calling function/file:line, colorized
// the way an interactive terminal session expects.
func (l *Logger) ReportCaller() {
	magenta := color.New(color.FgMagenta).SprintFunc()
	l.Log.SetFormatter(&logrus.TextFormatter{
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return magenta(f.Func.Name()), fmt.Sprintf("%s:%d", f.File, f.Line)
		},
	})
	l.Log.SetReportCaller(true)
}

func goroutineID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field := strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))[0]
	id, err := strconv.Atoi(field)
	if err != nil {
		return -1
	}
	return id
}
