package types

import (
	"crypto/rand"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Envelope is the push frame exchanged over the realtime socket. UserID is
// empty for platform-wide broadcasts.
type Envelope struct {
	Type    EventType       `json:"type"`
	UserID  string          `json:"user_id,omitempty"`
	EventID string          `json:"event_id,omitempty"`
	TS      int64           `json:"ts,omitempty"`
	Token   string          `json:"token,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newEventID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// NewEnvelope stamps an event id and timestamp and encodes data.
func NewEnvelope(t EventType, userID string, data any) (Envelope, error) {
	now := time.Now().UTC()
	env := Envelope{Type: t, UserID: userID, EventID: newEventID(now), TS: now.UnixMilli()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, err
		}
		env.Data = raw
	}
	return env, nil
}
