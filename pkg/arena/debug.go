/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package arena

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"
)

type logger struct {
	name      string
	callDepth int
}

var (
	internalLogger = &logger{"memarena", 3}

	logMu     sync.Mutex
	logOut    io.Writer = os.Stdout
	level     int
	debugMode = false

	magenta = string([]byte{27, 91, 57, 53, 109}) // Trace
	green   = string([]byte{27, 91, 57, 50, 109}) // Debug
	blue    = string([]byte{27, 91, 57, 52, 109}) // Info
	yellow  = string([]byte{27, 91, 57, 51, 109}) // Warn
	red     = string([]byte{27, 91, 57, 49, 109}) // Error
	reset   = string([]byte{27, 91, 48, 109})

	colors = []string{
		magenta,
		green,
		blue,
		yellow,
		red,
	}

	levelName = []string{
		"Trace",
		"Debug",
		"Info",
		"Warn",
		"Error",
	}
)

// Log levels accepted by SetLogLevel and MEMARENA_LOG_LEVEL.
const (
	LevelTrace = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNoPrint
)

func init() {
	level = LevelWarn
	if os.Getenv("MEMARENA_LOG_LEVEL") != "" {
		if n, err := strconv.Atoi(os.Getenv("MEMARENA_LOG_LEVEL")); err == nil {
			if n >= LevelTrace && n <= LevelNoPrint {
				level = n
			}
		}
	}

	if os.Getenv("MEMARENA_DEBUG_MODE") != "" {
		debugMode = true
	}
}

// SetLogLevel changes the internal logger's level. The default is Warn; the
// process env `MEMARENA_LOG_LEVEL` also sets it.
func SetLogLevel(l int) {
	logMu.Lock()
	defer logMu.Unlock()
	if l >= LevelTrace && l <= LevelNoPrint {
		level = l
	}
}

// SetLogOutput redirects the internal logger. nil restores os.Stdout.
func SetLogOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	logOut = w
}

func (l *logger) logf(lv int, format string, a ...interface{}) {
	logMu.Lock()
	defer logMu.Unlock()
	if level > lv {
		return
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	l.prefix(buf, lv)
	_, _ = fmt.Fprintf(buf, format, a...)
	_, _ = buf.WriteString(reset)
	_ = buf.WriteByte('\n')
	if _, err := logOut.Write(buf.B); err != nil {
		fmt.Fprintf(os.Stderr, "memarena logger write failed: %v\n", err)
	}
}

func (l *logger) errorf(format string, a ...interface{}) { l.logf(LevelError, format, a...) }

func (l *logger) warnf(format string, a ...interface{}) { l.logf(LevelWarn, format, a...) }

func (l *logger) infof(format string, a ...interface{}) { l.logf(LevelInfo, format, a...) }

func (l *logger) debugf(format string, a ...interface{}) { l.logf(LevelDebug, format, a...) }

func (l *logger) tracef(format string, a ...interface{}) { l.logf(LevelTrace, format, a...) }

func (l *logger) enabled(lv int) bool {
	logMu.Lock()
	defer logMu.Unlock()
	return level <= lv
}

func (l *logger) prefix(buf *bytebufferpool.ByteBuffer, lv int) {
	_, _ = buf.WriteString(colors[lv])
	_, _ = buf.WriteString(levelName[lv])
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(time.Now().Format("2006-01-02 15:04:05.999999"))
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.location())
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.name)
	_ = buf.WriteByte(' ')
}

func (l *logger) location() string {
	_, file, line, ok := runtime.Caller(l.callDepth + 1)
	if !ok {
		file = "???"
		line = 0
	}
	file = filepath.Base(file)
	return file + ":" + strconv.Itoa(line)
}
