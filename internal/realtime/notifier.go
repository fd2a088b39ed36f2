package realtime

import (
	"context"
	"encoding/json"

	"lv-restrict/internal/types"
)

// Notifier pushes envelopes to connected users. Delivery is fire-and-forget:
// an offline user is not an error.
type Notifier interface {
	NotifyUser(ctx context.Context, userID string, evt types.Envelope) error
	Broadcast(ctx context.Context, evt types.Envelope) error
}

// LocalNotifier delivers straight into this instance's registry.
type LocalNotifier struct {
	registry *Registry
}

func NewLocalNotifier(registry *Registry) *LocalNotifier {
	return &LocalNotifier{registry: registry}
}

func (n *LocalNotifier) NotifyUser(_ context.Context, userID string, evt types.Envelope) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	n.registry.SendToUser(userID, payload)
	return nil
}

func (n *LocalNotifier) Broadcast(_ context.Context, evt types.Envelope) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	n.registry.Broadcast(payload)
	return nil
}
