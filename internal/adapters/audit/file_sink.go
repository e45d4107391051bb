package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/toolvault/download-gateway/internal/domain"
)

// FileSink appends one JSON line per initiated transfer, matching the
// downloads.log format read by existing reporting scripts. Appends are
// serialized by a lock; O_APPEND keeps lines whole across processes.
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink creates a sink appending to the given path. The file is
// opened per record so log rotation needs no coordination with the gateway.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) Record(_ context.Context, entry domain.AuditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}
