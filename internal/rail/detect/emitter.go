package detect

import (
	"encoding/json"
	"io"
	"log"
	"sync"
)

// Emitter receives every conflict the engine emits, in emission order.
type Emitter interface {
	Emit(Conflict)
}

// ConsoleEmitter writes a one-line summary per conflict through Logf.
// The default sink is the standard logger.
type ConsoleEmitter struct {
	Logf func(format string, args ...any)
}

// Emit logs the conflict.
func (c *ConsoleEmitter) Emit(conflict Conflict) {
	logf := c.Logf
	if logf == nil {
		logf = log.Printf
	}
	logf("[detect] %s %s %s at %s involving %v: %s",
		conflict.ConflictID, conflict.Severity, conflict.Type,
		conflict.Location, conflict.InvolvedTrains, conflict.Explanation)
}

// JSONLEmitter appends one JSON document per line to a writer. Safe for
// concurrent emitters sharing a file.
type JSONLEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLEmitter wraps a writer.
func NewJSONLEmitter(w io.Writer) *JSONLEmitter {
	return &JSONLEmitter{enc: json.NewEncoder(w)}
}

// Emit writes the conflict as a single line. Encoding failures are logged
// and dropped; emission must never disturb the tick loop.
func (j *JSONLEmitter) Emit(conflict Conflict) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(conflict); err != nil {
		log.Printf("[detect] jsonl emit failed: %v", err)
	}
}
