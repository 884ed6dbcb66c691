package conversation

import (
	"context"

	"lightlink/cmd/identity"
	"lightlink/cmd/internal/notify"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

// SendDM appends a direct message and delivers it to both parties.
// The first message between two identities makes them friends.
func (e *Engine) SendDM(ctx context.Context, caller outbox.Caller, p v1.SendDMPayload) (outbox.Outcome, error) {
	const op = "conversation.SendDM"
	target := identity.NormalizeName(p.Target)
	if target == "" || target == caller.Name {
		return outbox.Outcome{}, identity.Invalid(op, "")
	}
	text, err := body(op, p.Text)
	if err != nil {
		return outbox.Outcome{}, err
	}
	if !validData(p.Data) {
		return outbox.Outcome{}, identity.Invalid(op, "Invalid encrypted payload.")
	}

	if err := e.expireMute(ctx, caller.Name); err != nil {
		return outbox.Outcome{}, err
	}

	var out outbox.Outcome
	err = e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		now := e.store.Now()
		if err := checkMuted(st, op, caller.Name, now); err != nil {
			return err
		}
		switch {
		case !st.HasIdentity(target):
			return identity.NotFound(op, "User not found.")
		case st.HasBlocked(target, caller.Name):
			return identity.Forbidden(op, "You cannot message this user.")
		case st.HasBlocked(caller.Name, target):
			return identity.Forbidden(op, "Unblock this user to message them.")
		}

		msg := newMessage(caller.Name, text, now)
		msg.Status = store.DeliverySent
		msg.Encrypted = p.Encrypted
		msg.Data = p.Data

		t := st.DirectThread(caller.Name, target, true)
		t.Messages = append(t.Messages, msg)

		entry := v1.DMPayload{Key: t.Key, Entry: msg.Wire()}
		out.Send(target, v1.TypeDM, entry)
		out.Send(caller.Name, v1.TypeDM, entry)

		if st.AddFriendship(caller.Name, target) {
			out.Send(target, v1.TypeFriendAdded, v1.FriendAddedPayload{Friend: caller.Name})
			out.Send(caller.Name, v1.TypeFriendAdded, v1.FriendAddedPayload{Friend: target})
		}

		e.queue.Add(st, &out, target, "New Message", "Message from "+caller.Name, notify.KindMessage, now)
		out.Pushes = append(out.Pushes, outbox.Push{
			To:          target,
			Title:       "New Message",
			Body:        caller.Name + " dmed you",
			OfflineOnly: true,
		})
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

// GetDM replies with the thread between the caller and the target.
func (e *Engine) GetDM(ctx context.Context, caller outbox.Caller, p v1.TargetPayload) (outbox.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}
	target := identity.NormalizeName(p.Target)
	key := store.DirectKey(caller.Name, target)

	var out outbox.Outcome
	e.store.Read(func(st *store.State) {
		history := []v1.Message{}
		if t := st.Direct[key]; t != nil {
			history = store.WireMessages(t.Messages)
		}
		out.Reply(v1.TypeDMHistory, v1.DMHistoryPayload{Key: key, History: history})
	})
	return out, nil
}

// MarkRead moves every message the target sent to the caller to read.
func (e *Engine) MarkRead(ctx context.Context, caller outbox.Caller, p v1.TargetPayload) (outbox.Outcome, error) {
	const op = "conversation.MarkRead"
	target := identity.NormalizeName(p.Target)
	if target == "" {
		return outbox.Outcome{}, identity.Invalid(op, "")
	}

	var out outbox.Outcome
	err := e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		t := st.DirectThread(caller.Name, target, false)
		if t == nil {
			return store.ErrNoChange
		}
		changed := false
		for i := range t.Messages {
			m := &t.Messages[i]
			if m.From != target {
				continue
			}
			if next, ok := m.Status.Advance(store.DeliveryRead); ok {
				m.Status = next
				changed = true
			}
		}
		if !changed {
			return store.ErrNoChange
		}
		receipt := v1.ReceiptUpdatePayload{Key: t.Key, Type: store.DeliveryRead.String(), By: caller.Name}
		out.Send(target, v1.TypeReceiptUpdate, receipt)
		out.Send(caller.Name, v1.TypeReceiptUpdate, receipt)
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

// MarkDelivered acknowledges one received message. It never moves a read
// message back to delivered.
func (e *Engine) MarkDelivered(ctx context.Context, caller outbox.Caller, p v1.MarkDeliveredPayload) (outbox.Outcome, error) {
	const op = "conversation.MarkDelivered"
	a, b, ok := store.SplitDirectKey(p.Key)
	if !ok || (a != caller.Name && b != caller.Name) || p.ID == "" {
		return outbox.Outcome{}, identity.NotFound(op, "")
	}
	other := a
	if other == caller.Name {
		other = b
	}

	var out outbox.Outcome
	err := e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		t := st.Direct[p.Key]
		if t == nil {
			return identity.NotFound(op, "")
		}
		for i := range t.Messages {
			m := &t.Messages[i]
			if m.ID != p.ID {
				continue
			}
			if m.From != other {
				return store.ErrNoChange
			}
			next, changed := m.Status.Advance(store.DeliveryDelivered)
			if !changed {
				return store.ErrNoChange
			}
			m.Status = next
			out.Send(other, v1.TypeReceiptUpdate, v1.ReceiptUpdatePayload{
				Key:  t.Key,
				ID:   m.ID,
				Type: store.DeliveryDelivered.String(),
				By:   caller.Name,
			})
			return nil
		}
		return identity.NotFound(op, "")
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}
