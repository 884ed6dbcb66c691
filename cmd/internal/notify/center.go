package notify

import (
	"context"
	"log/slog"

	"lightlink/cmd/identity"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

// Center serves the notification and push-subscription commands.
type Center struct {
	store *store.Store
	queue *Queue
	log   *slog.Logger
}

// NewCenter returns a Center over st using q for queue policy.
func NewCenter(st *store.Store, q *Queue, log *slog.Logger) *Center {
	if q == nil {
		q = NewQueue(DefaultQueueCap)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Center{store: st, queue: q, log: log}
}

// Queue returns the queue policy shared with other managers.
func (c *Center) Queue() *Queue { return c.queue }

// List replies with the caller's notifications.
func (c *Center) List(ctx context.Context, caller outbox.Caller) (outbox.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}
	var out outbox.Outcome
	c.store.Read(func(st *store.State) {
		out.Reply(v1.TypeNotificationsList, v1.NotificationsListPayload{Notifications: c.queue.List(st, caller.Name)})
	})
	return out, nil
}

// MarkRead flags every notification as read. Repeating it is a no-op.
func (c *Center) MarkRead(ctx context.Context, caller outbox.Caller) (outbox.Outcome, error) {
	err := c.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		if !c.queue.MarkRead(st, caller.Name) {
			return store.ErrNoChange
		}
		return nil
	})
	return outbox.Outcome{}, err
}

// Delete removes one notification and replies with the remaining list.
func (c *Center) Delete(ctx context.Context, caller outbox.Caller, p v1.NotificationRefPayload) (outbox.Outcome, error) {
	var out outbox.Outcome
	err := c.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		if !c.queue.Delete(st, caller.Name, p.ID) {
			return store.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	c.store.Read(func(st *store.State) {
		out.Reply(v1.TypeNotificationsList, v1.NotificationsListPayload{Notifications: c.queue.List(st, caller.Name)})
	})
	return out, nil
}

// TestPush pushes a fixed notice to the caller.
func (c *Center) TestPush(ctx context.Context, caller outbox.Caller) (outbox.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}
	return outbox.Outcome{Pushes: []outbox.Push{{
		To:    caller.Name,
		Title: "Test Notification",
		Body:  "This is a test notification from the server.",
	}}}, nil
}

// Subscribe registers a push endpoint for name. A claimed identity must present its token.
func (c *Center) Subscribe(ctx context.Context, name, token string, sub store.PushSubscription) error {
	const op = "notify.Subscribe"

	name = identity.NormalizeName(name)
	if name == "" {
		return identity.Invalid(op, "username and subscription required")
	}
	if err := ValidateSubscription(sub); err != nil {
		return identity.Invalid(op, "invalid subscription")
	}

	var added bool
	err := c.store.Write(ctx, func(st *store.State) error {
		id := st.Identity(name)
		if id == nil {
			return identity.NotFound(op, "unknown user")
		}
		if id.Claimed() && !identity.TokenMatches(id.Credential.TokenHash, token) {
			return identity.Unauthenticated(op, "Unauthorized")
		}
		added = Subscribe(st, name, sub, c.store.Now())
		if !added {
			return store.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return err
	}
	if added {
		c.log.Info("push.subscribe", "user", name)
	}
	return nil
}
