package pipelinecore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// No third-party ID generator in the pack produces this exact
// `<prefix>_<utc-yyyymmdd-hhmmss>_<8-hex>` shape (typeid.io IDs are
// base32-encoded UUIDs, not timestamp+hex); spec.md §4.7/§6.2 mandates it
// literally, so it's hand-rolled here rather than bent to fit a library.

func newTimestampedID(prefix string) string {
	return fmt.Sprintf("%s_%s_%s", prefix, time.Now().UTC().Format("20060102_150405"), randomHex(4))
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on the standard reader does not fail in practice;
		// fall back to a time-derived value rather than panicking.
		return fmt.Sprintf("%08x", time.Now().UnixNano())[:n*2]
	}
	return hex.EncodeToString(buf)
}

// NewWorkflowID returns a fresh workflow ID: wf_<utc-yyyymmdd-hhmmss>_<8 hex>.
func NewWorkflowID() string {
	return newTimestampedID("wf")
}

// NewCheckpointID returns a fresh checkpoint ID: ckpt_<utc-yyyymmdd-hhmmss>_<8 hex>.
func NewCheckpointID() string {
	return newTimestampedID("ckpt")
}

// NewStageLogID returns a fresh stage log entry ID: stagelog_<utc-yyyymmdd-hhmmss>_<8 hex>.
func NewStageLogID() string {
	return newTimestampedID("stagelog")
}
