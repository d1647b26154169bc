package pipelinecore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStageLogger is a StageLogger that appends newline-delimited JSON to
// one file per workflow. Grounded on the teacher's FileActivityLogger,
// retargeted from per-execution activity entries to per-workflow stage
// entries.
type FileStageLogger struct {
	directory string
}

// NewFileStageLogger creates a FileStageLogger writing under directory.
func NewFileStageLogger(directory string) *FileStageLogger {
	return &FileStageLogger{directory: directory}
}

func (l *FileStageLogger) workflowLogPath(workflowID string) string {
	return filepath.Join(l.directory, fmt.Sprintf("%s.jsonl", workflowID))
}

// LogStage appends entry to workflowID's log file, creating it if absent.
func (l *FileStageLogger) LogStage(ctx context.Context, entry *StageLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	path := l.workflowLogPath(entry.WorkflowID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// GetStageHistory reads back every entry logged for workflowID, in order.
func (l *FileStageLogger) GetStageHistory(ctx context.Context, workflowID string) ([]*StageLogEntry, error) {
	data, err := os.ReadFile(l.workflowLogPath(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []*StageLogEntry
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var entry StageLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
