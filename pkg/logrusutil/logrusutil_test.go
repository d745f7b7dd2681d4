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

package logrusutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolFormatterInjectsToolField(t *testing.T) {
	f := &toolFormatter{
		wrapped: &logrus.TextFormatter{DisableTimestamp: true},
		tool:    "repo-stats",
	}

	entry := logrus.WithField("repo", "widget")
	entry.Message = "hello"
	entry.Level = logrus.InfoLevel
	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Contains(t, string(out), "tool=repo-stats")
	assert.Contains(t, string(out), "repo=widget")

	// An explicit tool field wins over the injected one.
	entry = logrus.WithField("tool", "other")
	entry.Message = "hello"
	entry.Level = logrus.InfoLevel
	out, err = f.Format(entry)
	require.NoError(t, err)
	assert.Contains(t, string(out), "tool=other")
}

func TestInitWritesDailyLogFile(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)
	dir := t.TempDir()

	closer, err := Init("repo-stats", "acme", true, dir)
	require.NoError(t, err)
	logrus.Info("file sink works")
	require.NoError(t, closer.Close())

	name := fmt.Sprintf("acme-repo-stats-%s.log", time.Now().Format("2006-01-02"))
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), "file sink works")
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}

func TestInitWithoutLogDir(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)

	closer, err := Init("repo-stats", "acme", false, "")
	require.NoError(t, err)
	require.NoError(t, closer.Close())
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
}
