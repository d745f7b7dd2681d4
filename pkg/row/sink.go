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

package row

import (
	"encoding/csv"
	"fmt"
	"os"
)

// Sink appends rows to a CSV file. The header is written only when the
// file is created, so resumed runs keep appending to the same file.
type Sink struct {
	path string
	file *os.File
	w    *csv.Writer
}

// OpenSink opens (or creates) the output file for appending. A new file
// gets the header row.
func OpenSink(path string) (*Sink, error) {
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening output file %s: %w", path, err)
	}
	s := &Sink{path: path, file: file, w: csv.NewWriter(file)}
	if fresh {
		if err := s.w.Write(Header); err != nil {
			file.Close()
			return nil, fmt.Errorf("writing header to %s: %w", path, err)
		}
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			file.Close()
			return nil, fmt.Errorf("flushing header to %s: %w", path, err)
		}
	}
	return s, nil
}

// Path returns the output file path.
func (s *Sink) Path() string { return s.path }

// WriteRow appends one record and flushes so a crash loses at most the row
// in flight.
func (s *Sink) WriteRow(r Row) error {
	if err := s.w.Write(r.Strings()); err != nil {
		return fmt.Errorf("writing row for %s: %w", r.RepoName, err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flushing row for %s: %w", r.RepoName, err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *Sink) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
