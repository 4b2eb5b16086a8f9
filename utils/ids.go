package utils

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewMsgID returns a fresh message id: prefix followed by 32 hex characters.
func NewMsgID(prefix string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// NewTxnID returns a fresh transaction id.
func NewTxnID() string {
	return NewMsgID("TXN")
}

// ResponseMsgID derives the id of the final response to an originating message.
func ResponseMsgID(originMsgID string) string {
	return "RESP" + originMsgID
}

// ParseTimestamp accepts the layouts seen in Head.ts and Txn.ts.
func ParseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
