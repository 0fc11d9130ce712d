package service

import (
	"context"

	"bioai-workspace-be/internal/pkg/logger"
	"bioai-workspace-be/pkg/events"
	pktNats "bioai-workspace-be/pkg/nats"

	"github.com/google/uuid"
)

const activityModule = "ActivityRelay"

// ActivityDelivery pushes an event to every open tab of a user. The
// websocket hub implements it.
type ActivityDelivery interface {
	Send(userID uuid.UUID, eventType string, data interface{})
}

// ActivityRelay forwards workspace audit events from the bus to the user
// they concern, so every tab learns about restores, snapshots and cleanups
// made elsewhere.
type ActivityRelay struct {
	subscriber *pktNats.Subscriber
	delivery   ActivityDelivery
	eventType  string
	logger     logger.ILogger
}

func NewActivityRelay(sub *pktNats.Subscriber, delivery ActivityDelivery, eventType string, log logger.ILogger) *ActivityRelay {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ActivityRelay{
		subscriber: sub,
		delivery:   delivery,
		eventType:  eventType,
		logger:     log,
	}
}

// Start begins listening to the event bus. Without a subscriber the relay
// stays idle.
func (r *ActivityRelay) Start(ctx context.Context) error {
	if r.subscriber == nil {
		r.logger.Warn(activityModule, "No NATS subscriber, activity relay disabled", nil)
		return nil
	}
	if err := r.subscriber.Subscribe(ctx, ">", "workspace-activity-relay", r.HandleEvent); err != nil {
		r.logger.Error(activityModule, "Failed to start activity subscriber", map[string]interface{}{"error": err.Error()})
		return err
	}
	r.logger.Info(activityModule, "Activity relay started", nil)
	return nil
}

// HandleEvent delivers one bus event. Events without a user are dropped.
func (r *ActivityRelay) HandleEvent(ctx context.Context, event events.Event) error {
	payload := event.Payload()
	raw, _ := payload["user_id"].(string)
	userID, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}

	data := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k == "user_id" {
			continue
		}
		data[k] = v
	}
	r.delivery.Send(userID, r.eventType, map[string]interface{}{
		"event":       event.EventType(),
		"data":        data,
		"occurred_at": event.Timestamp(),
	})
	return nil
}
