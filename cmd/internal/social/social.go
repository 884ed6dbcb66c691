// Package social manages friendships, block lists and friend-request signaling.
//
// Friendship edges are symmetric; blocks are directed and only affect the
// blocking direction. Pending requests are not stored: a request is a live
// event plus a notification, and any later accept creates the edge.
package social

import (
	"context"
	"fmt"
	"log/slog"

	"lightlink/cmd/identity"
	"lightlink/cmd/internal/notify"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

// Manager serves the social graph commands.
type Manager struct {
	store *store.Store
	queue *notify.Queue
	log   *slog.Logger
}

// New returns a Manager. A nil queue uses the default notification cap.
func New(st *store.Store, q *notify.Queue, log *slog.Logger) *Manager {
	if q == nil {
		q = notify.NewQueue(notify.DefaultQueueCap)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: st, queue: q, log: log}
}

// RequestFriend signals a friend request to the target.
// A target that blocked the caller looks exactly like an unknown user.
func (m *Manager) RequestFriend(ctx context.Context, caller outbox.Caller, p v1.TargetPayload) (outbox.Outcome, error) {
	const op = "social.RequestFriend"
	target := identity.NormalizeName(p.Target)
	if target == "" || target == caller.Name {
		return outbox.Outcome{}, identity.Invalid(op, "")
	}

	var out outbox.Outcome
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		switch {
		case st.HasBlocked(target, caller.Name):
			return identity.NotFound(op, "User not found.")
		case st.HasBlocked(caller.Name, target):
			return identity.Forbidden(op, "Unblock user first.")
		case st.AreFriends(caller.Name, target):
			return identity.Conflict(op, "already friends")
		case !st.HasIdentity(target):
			return identity.NotFound(op, "User not found.")
		}

		out.Send(target, v1.TypeFriendRequest, v1.FriendRequestPayload{From: caller.Name})
		out.Reply(v1.TypeSystem, v1.SystemPayload{Msg: "Request sent to " + target})
		m.queue.Add(st, &out, target, "New Friend Request",
			caller.Name+" sent you a friend request.", notify.KindFriend, m.store.Now())
		out.Pushes = append(out.Pushes, outbox.Push{
			To:          target,
			Title:       "New Friend Request",
			Body:        caller.Name + " wants to be your friend",
			OfflineOnly: true,
		})
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	m.log.Debug("social.request", "from", caller.Name, "to", target)
	return out, nil
}

// RespondFriend accepts or ignores a request from p.From. Accepting twice
// leaves exactly one edge.
func (m *Manager) RespondFriend(ctx context.Context, caller outbox.Caller, p v1.RespondFriendPayload) (outbox.Outcome, error) {
	const op = "social.RespondFriend"
	from := identity.NormalizeName(p.From)
	if from == "" || from == caller.Name {
		return outbox.Outcome{}, identity.Invalid(op, "")
	}
	if !p.Accepted {
		return outbox.Outcome{}, nil
	}

	var out outbox.Outcome
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		if !st.HasIdentity(from) {
			return identity.NotFound(op, "")
		}
		if st.HasBlocked(from, caller.Name) || st.HasBlocked(caller.Name, from) {
			return identity.Forbidden(op, "")
		}
		changed := st.AddFriendship(caller.Name, from)
		out.RefreshAll(caller.Name, from)
		if !changed {
			return store.ErrNoChange
		}
		out.Send(from, v1.TypeSystem, v1.SystemPayload{Msg: caller.Name + " accepted your friend request!"})
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

// Block records a directed block and drops any friendship edge.
func (m *Manager) Block(ctx context.Context, caller outbox.Caller, p v1.TargetPayload) (outbox.Outcome, error) {
	const op = "social.Block"
	target := identity.NormalizeName(p.Target)
	if target == "" || target == caller.Name {
		return outbox.Outcome{}, identity.Invalid(op, "")
	}

	var out outbox.Outcome
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		if st.HasBlocked(caller.Name, target) {
			return store.ErrNoChange
		}
		wasFriend := st.AreFriends(caller.Name, target)
		st.Block(caller.Name, target)

		out.Reply(v1.TypeSystem, v1.SystemPayload{Msg: "Blocked " + target})
		out.RefreshAll(caller.Name)
		if wasFriend {
			out.RefreshAll(target)
		}
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	m.log.Info("social.block", "user", caller.Name, "target", target)
	return out, nil
}

// Unblock removes a directed block. It does not restore a friendship.
func (m *Manager) Unblock(ctx context.Context, caller outbox.Caller, p v1.TargetPayload) (outbox.Outcome, error) {
	const op = "social.Unblock"
	target := identity.NormalizeName(p.Target)
	if target == "" {
		return outbox.Outcome{}, identity.Invalid(op, "")
	}

	var out outbox.Outcome
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		out.Reply(v1.TypeSystem, v1.SystemPayload{Msg: "Unblocked " + target})
		out.RefreshAll(caller.Name)
		if !st.Unblock(caller.Name, target) {
			return store.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

// RemoveFriend drops the symmetric edge. Direct history is kept.
func (m *Manager) RemoveFriend(ctx context.Context, caller outbox.Caller, p v1.TargetPayload) (outbox.Outcome, error) {
	const op = "social.RemoveFriend"
	target := identity.NormalizeName(p.Target)
	if target == "" {
		return outbox.Outcome{}, identity.Invalid(op, "")
	}

	var out outbox.Outcome
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		if !st.RemoveFriendship(caller.Name, target) {
			return identity.NotFound(op, fmt.Sprintf("%s is not your friend", target))
		}
		out.Reply(v1.TypeSystem, v1.SystemPayload{Msg: "Removed " + target})
		out.RefreshAll(caller.Name, target)
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}
