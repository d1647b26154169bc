package pipelinecore

import (
	"encoding/json"
	"fmt"
)

// SerializeSnapshot renders a WorkflowSnapshot as structured, human-readable
// text (JSON). json.Marshal already preserves UTC `time.Time` values (they
// carry their own zone, and NewWorkflowRecord always stamps UTC), survives
// arbitrary unicode content, and keeps empty slices/maps as `[]`/`{}` rather
// than dropping them, since every snapshot field is initialized to a
// non-nil empty collection rather than left nil.
func SerializeSnapshot(s *WorkflowSnapshot) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("serialize snapshot: %w", err)
	}
	return string(data), nil
}

// DeserializeSnapshot parses snapshot text back into a WorkflowSnapshot.
// The spec requires the literal substring "not valid JSON" to appear in the
// error when parsing fails, since tests assert on it directly.
func DeserializeSnapshot(text string) (*WorkflowSnapshot, error) {
	var s WorkflowSnapshot
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil, fmt.Errorf("snapshot is not valid JSON: %w", err)
	}
	return &s, nil
}

// byteLength returns the UTF-8 byte length of s, used to measure
// state_size_bytes per spec.md §4.1.
func byteLength(s string) int {
	return len([]byte(s))
}
