package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/go-git/go-billy/v5"
)

// Changelog appends change records to a JSONL file, one record per line.
// The log is append-only and never rewritten; it is the durable history of
// everything reconciliation observed.
type Changelog struct {
	fs   billy.Filesystem
	path string
	mu   sync.Mutex
}

// NewChangelog creates a changelog writing to path on fs.
func NewChangelog(fs billy.Filesystem, path string) *Changelog {
	return &Changelog{fs: fs, path: path}
}

// Append writes the given records to the end of the log. A nil or empty
// slice is a no-op.
func (c *Changelog) Append(changes []Change) error {
	if len(changes) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, ch := range changes {
		line, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("marshal change record: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.fs.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open changelog: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append changelog: %w", err)
	}
	return nil
}
