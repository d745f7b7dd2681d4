/*
Copyright 2023 The repostats Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logrusutil configures logrus for the repostats commands.
package logrusutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// toolFormatter injects the tool name into every entry without clobbering
// fields the entry already carries.
type toolFormatter struct {
	wrapped logrus.Formatter
	tool    string
}

func (f *toolFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	if _, ok := entry.Data["tool"]; !ok {
		// Copy so concurrent use of the caller's entry stays safe.
		data := make(logrus.Fields, len(entry.Data)+1)
		for k, v := range entry.Data {
			data[k] = v
		}
		data["tool"] = f.tool
		clone := *entry
		clone.Data = data
		entry = &clone
	}
	return f.wrapped.Format(entry)
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// Init configures the standard logger for a command: text output on the
// console at info (debug when verbose), plus an optional append-mode log
// file under logDir named <org>-<tool>-YYYY-MM-DD.log. The returned closer
// is a no-op when no log file is in play.
func Init(tool, org string, verbose bool, logDir string) (io.Closer, error) {
	logrus.SetFormatter(&toolFormatter{
		wrapped: &logrus.TextFormatter{FullTimestamp: true},
		tool:    tool,
	})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}

	if logDir == "" {
		return noopCloser{}, nil
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", logDir, err)
	}
	name := fmt.Sprintf("%s-%s-%s.log", org, tool, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(logDir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", name, err)
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, file))
	return file, nil
}
