// Copyright 2018 Fabian Wenzelmann
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mosaic

import (
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// Debug is true if code should be compiled in debug mode, performing
	// additional consistency checks.
	Debug = true
)

var (
	// BufferSize is the (default) size of buffers. Some methods create buffered
	// channels, this parameter controls how big such buffers might be.
	// Usually such buffers store no big data (ints, bools etc.).
	BufferSize = 1000
)

// ProgressFunc is a function that is used to inform a caller about the progress
// of a called function.
// For example if we process thousands of images we might wish to know
// how far the call is and give feedback to the user.
// The called method calls the process function after each iteration.
//
// Progress functions might be called concurrently.
type ProgressFunc func(num int)

func progressMessage(prefix string, num, max int) string {
	percent := (float64(num) / float64(max)) * 100.0
	if percent > 100.0 {
		percent = 100.0
	}
	if prefix == "" {
		prefix = "Progress"
	}
	return fmt.Sprintf("%s: %d of %d (%.1f%%)", prefix, num, max, percent)
}

// StdProgressFunc is a parameterized ProgressFunc that writes to w.
// The output describes the progress (how many of how many objects processed).
// Messages may have an addition prefix. max is the total number of elements
// to process and step describes how often to print (for example step = 100
// every 100 items).
func StdProgressFunc(w io.Writer, prefix string, max, step int) ProgressFunc {
	return func(num int) {
		if step == 0 || max == 0 {
			return
		}
		if !(step < 0 || num%step == 0 || num == max) {
			return
		}
		fmt.Fprintln(w, progressMessage(prefix, num, max))
	}
}

// ThrottledProgressFunc logs the progress at most once per interval, and
// always when the last element is done.
func ThrottledProgressFunc(prefix string, max int, interval time.Duration) ProgressFunc {
	sometimes := &rate.Sometimes{Interval: interval}
	return func(num int) {
		if max == 0 {
			return
		}
		if num == max {
			log.Info(progressMessage(prefix, num, max))
			return
		}
		sometimes.Do(func() {
			log.Info(progressMessage(prefix, num, max))
		})
	}
}
