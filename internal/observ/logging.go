// Package observ is the process-wide observability surface: one-line JSON
// event logging and an in-process metrics registry.
package observ

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

var logMu sync.Mutex

// Log writes one structured event line to stdout. The map is augmented with
// the event name and a UTC timestamp; concurrent callers (stream fan-out,
// evaluator passes, supervisors) never interleave lines.
func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)

	logMu.Lock()
	defer logMu.Unlock()
	os.Stdout.Write(append(b, '\n'))
}
