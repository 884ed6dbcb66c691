package moderation

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"lightlink/cmd/identity"
	"lightlink/cmd/identity/ids"
	"lightlink/cmd/internal/notify"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

const defaultWarning = "you have been warned by an admin."

// Warn records a warning for the target and notifies it live and by push.
func (m *Manager) Warn(ctx context.Context, caller outbox.Caller, p v1.AdminWarnPayload) (outbox.Outcome, error) {
	const op = "moderation.Warn"
	if err := m.guard(op, p.Password); err != nil {
		return outbox.Outcome{}, err
	}
	target := identity.NormalizeName(p.Target)
	msg := strings.TrimSpace(p.Message)
	if msg == "" {
		msg = defaultWarning
	}

	var out outbox.Outcome
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		if !st.HasIdentity(target) {
			return identity.NotFound(op, "User not found.")
		}
		now := m.store.Now()
		st.Warnings[target] = &store.Warning{Message: msg, At: now}

		out.Send(target, v1.TypeAdminWarning, v1.AdminWarningPayload{Message: msg})
		m.queue.Add(st, &out, target, "Admin Warning", msg, notify.KindWarning, now)
		out.Pushes = append(out.Pushes, outbox.Push{To: target, Title: "Warning from admin", Body: msg})
		out.Reply(v1.TypeSystem, system("Warned "+target))
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	m.log.Info("admin.warn", "by", caller.Name, "target", target)
	return out, nil
}

// TakeWarning removes and returns the pending warning for name.
func (m *Manager) TakeWarning(ctx context.Context, name string) (store.Warning, bool, error) {
	var (
		w     store.Warning
		found bool
	)
	err := m.store.Write(ctx, func(st *store.State) error {
		pending, ok := st.Warnings[name]
		if !ok {
			return store.ErrNoChange
		}
		w, found = *pending, true
		delete(st.Warnings, name)
		return nil
	})
	return w, found, err
}

// CheckWarning pulls and clears the caller's pending warning.
func (m *Manager) CheckWarning(ctx context.Context, caller outbox.Caller) (outbox.Outcome, error) {
	w, found, err := m.TakeWarning(ctx, caller.Name)
	if err != nil {
		return outbox.Outcome{}, err
	}
	var out outbox.Outcome
	out.Reply(v1.TypeWarningStatus, v1.WarningStatusPayload{Warning: found, Message: w.Message})
	return out, nil
}

// Ban bans the address of the target's live session and disconnects it.
func (m *Manager) Ban(ctx context.Context, caller outbox.Caller, p v1.AdminBanPayload) (outbox.Outcome, error) {
	const op = "moderation.Ban"
	if err := m.guard(op, p.Password); err != nil {
		return outbox.Outcome{}, err
	}
	target := identity.NormalizeName(p.Target)
	addr := m.addrOf(target)
	if addr == "" {
		return outbox.Outcome{}, identity.NotFound(op, "User not found or offline.")
	}
	reason := strings.TrimSpace(p.Reason)

	var out outbox.Outcome
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		now := m.store.Now()
		b := &store.Ban{IP: addr, Target: target, Reason: reason, CreatedAt: now}
		if p.DurationMinutes > 0 {
			exp := now.Add(time.Duration(p.DurationMinutes) * time.Minute)
			b.Expires = &exp
		}
		st.Bans[addr] = b
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}

	out.Kicks = append(out.Kicks, outbox.Kick{Identity: target, Reason: reason})
	out.Reply(v1.TypeSystem, system(fmt.Sprintf("Banned %s (%s)", target, addr)))
	m.log.Info("admin.ban", "by", caller.Name, "target", target, "ip", addr, "minutes", p.DurationMinutes)
	return out, nil
}

// addrOf returns the address of the first live session bound to name.
func (m *Manager) addrOf(name string) string {
	if name == "" {
		return ""
	}
	for _, s := range m.presence.Sessions() {
		if s.Name == name && s.Addr != "" {
			return s.Addr
		}
	}
	return ""
}

// Unban lifts the ban on an address.
func (m *Manager) Unban(ctx context.Context, caller outbox.Caller, p v1.AdminUnbanPayload) (outbox.Outcome, error) {
	const op = "moderation.Unban"
	if err := m.guard(op, p.Password); err != nil {
		return outbox.Outcome{}, err
	}
	ip := strings.TrimSpace(p.IP)

	var found bool
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		if _, found = st.Bans[ip]; !found {
			return store.ErrNoChange
		}
		delete(st.Bans, ip)
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}

	var out outbox.Outcome
	if !found {
		out.Reply(v1.TypeSystem, system("IP not found in ban list."))
		return out, nil
	}
	out.Reply(v1.TypeSystem, system("Unbanned IP: "+ip))
	m.log.Info("admin.unban", "by", caller.Name, "ip", ip)
	return out, nil
}

// ListBans replies with every recorded ban, sorted by address.
func (m *Manager) ListBans(ctx context.Context, _ outbox.Caller, p v1.AdminPayload) (outbox.Outcome, error) {
	if err := m.guard("moderation.ListBans", p.Password); err != nil {
		return outbox.Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}
	bans := []v1.Ban{}
	m.store.Read(func(st *store.State) {
		for _, b := range st.Bans {
			bans = append(bans, b.Wire())
		}
	})
	sort.Slice(bans, func(i, j int) bool { return bans[i].IP < bans[j].IP })

	var out outbox.Outcome
	out.Reply(v1.TypeAdminBans, v1.AdminBansPayload{Bans: bans})
	return out, nil
}

// CheckBan reports the active ban on addr. An expired ban is removed.
func (m *Manager) CheckBan(ctx context.Context, addr string) (v1.Ban, bool, error) {
	if addr == "" {
		return v1.Ban{}, false, nil
	}
	var (
		ban    v1.Ban
		banned bool
	)
	err := m.store.Write(ctx, func(st *store.State) error {
		b, ok := st.Bans[addr]
		if !ok {
			return store.ErrNoChange
		}
		if b.Expired(m.store.Now()) {
			delete(st.Bans, addr)
			m.log.Info("ban.expire", "ip", addr)
			return nil
		}
		ban, banned = b.Wire(), true
		return store.ErrNoChange
	})
	return ban, banned, err
}

// Mute silences the target on every send path.
func (m *Manager) Mute(ctx context.Context, caller outbox.Caller, p v1.AdminMutePayload) (outbox.Outcome, error) {
	const op = "moderation.Mute"
	if err := m.guard(op, p.Password); err != nil {
		return outbox.Outcome{}, err
	}
	target := identity.NormalizeName(p.Target)

	var out outbox.Outcome
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		if !st.HasIdentity(target) {
			return identity.NotFound(op, "User not found.")
		}
		now := m.store.Now()
		mu := &store.Mute{CreatedAt: now}
		if p.DurationMinutes > 0 {
			until := now.Add(time.Duration(p.DurationMinutes) * time.Minute)
			mu.Until = &until
		}
		st.Mutes[target] = mu
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}

	if p.DurationMinutes > 0 {
		span := fmt.Sprintf(" for %d minutes", p.DurationMinutes)
		out.Send(target, v1.TypeSystem, system("You have been muted"+span))
		out.Reply(v1.TypeSystem, system("Muted "+target+span))
	} else {
		out.Send(target, v1.TypeSystem, system("You have been muted"))
		out.Reply(v1.TypeSystem, system("Muted "+target+" permanently"))
	}
	m.log.Info("admin.mute", "by", caller.Name, "target", target, "minutes", p.DurationMinutes)
	return out, nil
}

// Unmute lifts a mute.
func (m *Manager) Unmute(ctx context.Context, caller outbox.Caller, p v1.AdminMutePayload) (outbox.Outcome, error) {
	const op = "moderation.Unmute"
	if err := m.guard(op, p.Password); err != nil {
		return outbox.Outcome{}, err
	}
	target := identity.NormalizeName(p.Target)

	var found bool
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		if _, found = st.Mutes[target]; !found {
			return store.ErrNoChange
		}
		delete(st.Mutes, target)
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}

	var out outbox.Outcome
	if !found {
		out.Reply(v1.TypeSystem, system(target+" is not muted"))
		return out, nil
	}
	out.Send(target, v1.TypeSystem, system("You have been unmuted"))
	out.Reply(v1.TypeSystem, system("Unmuted "+target))
	m.log.Info("admin.unmute", "by", caller.Name, "target", target)
	return out, nil
}

// ListUsers replies with every live session and its address.
func (m *Manager) ListUsers(ctx context.Context, _ outbox.Caller, p v1.AdminPayload) (outbox.Outcome, error) {
	if err := m.guard("moderation.ListUsers", p.Password); err != nil {
		return outbox.Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}
	users := []v1.UserInfo{}
	for _, s := range m.presence.Sessions() {
		name := s.Name
		if name == "" {
			name = "Guest"
		}
		users = append(users, v1.UserInfo{Username: name, Online: true, IP: s.Addr})
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].Username < users[j].Username })

	var out outbox.Outcome
	out.Reply(v1.TypeAdminUsersList, v1.AdminUsersListPayload{Users: users})
	return out, nil
}

// AllUsers replies with every registered identity.
func (m *Manager) AllUsers(ctx context.Context, _ outbox.Caller, p v1.AdminPayload) (outbox.Outcome, error) {
	if err := m.guard("moderation.AllUsers", p.Password); err != nil {
		return outbox.Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}
	var users []v1.UserInfo
	m.store.Read(func(st *store.State) {
		now := m.store.Now()
		users = make([]v1.UserInfo, 0, len(st.Identities))
		for _, name := range st.Names() {
			id := st.Identity(name)
			info := v1.UserInfo{
				Username: name,
				Claimed:  id.Claimed(),
				Online:   m.presence.Online(name),
				Muted:    st.Mutes[name].Active(now),
			}
			if id.Claimed() {
				info.Email = id.Credential.Email
			}
			users = append(users, info)
		}
	})

	var out outbox.Outcome
	out.Reply(v1.TypeAdminUsersList, v1.AdminUsersListPayload{Users: users})
	return out, nil
}

// SendPush pushes an arbitrary notice to the target's endpoints.
func (m *Manager) SendPush(ctx context.Context, caller outbox.Caller, p v1.AdminSendPushPayload) (outbox.Outcome, error) {
	const op = "moderation.SendPush"
	if err := m.guard(op, p.Password); err != nil {
		return outbox.Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}
	target := identity.NormalizeName(p.Target)
	title, body := strings.TrimSpace(p.Title), strings.TrimSpace(p.Body)
	if target == "" || title == "" || body == "" {
		return outbox.Outcome{}, identity.Invalid(op, "Target, title, and body required")
	}

	var subs int
	m.store.Read(func(st *store.State) { subs = len(st.PushSubs[target]) })
	if subs == 0 {
		return outbox.Outcome{}, identity.NotFound(op, "No push subscriptions for "+target)
	}

	var out outbox.Outcome
	out.Pushes = append(out.Pushes, outbox.Push{To: target, Title: title, Body: body})
	out.Reply(v1.TypeSystem, system("Push notification sent to "+target))
	m.log.Info("admin.push", "by", caller.Name, "target", target)
	return out, nil
}

// Broadcast sends a notice to every live session, pushes it to every
// subscribed identity and records it as an announcement.
func (m *Manager) Broadcast(ctx context.Context, caller outbox.Caller, p v1.AdminBroadcastPayload) (outbox.Outcome, error) {
	const op = "moderation.Broadcast"
	if err := m.guard(op, p.Password); err != nil {
		return outbox.Outcome{}, err
	}
	msg := strings.TrimSpace(p.Message)
	if msg == "" {
		return outbox.Outcome{}, identity.Invalid(op, "Message required")
	}

	var out outbox.Outcome
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		names := make([]string, 0, len(st.PushSubs))
		for name, subs := range st.PushSubs {
			if len(subs) > 0 {
				names = append(names, name)
			}
		}
		slices.Sort(names)
		for _, name := range names {
			out.Pushes = append(out.Pushes, outbox.Push{To: name, Title: "System Broadcast", Body: msg})
		}

		st.Announcements = append(st.Announcements, store.Announcement{
			ID:      ids.NewUUID(),
			Message: msg,
			Date:    m.store.Now(),
		})
		if n := len(st.Announcements); n > maxAnnouncements {
			st.Announcements = slices.Delete(st.Announcements, 0, n-maxAnnouncements)
		}
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}

	live := len(m.presence.Sessions())
	out.Broadcast = append(out.Broadcast, outbox.Event{Type: v1.TypeSystem, Payload: system(msg)})
	out.Reply(v1.TypeSystem, system(fmt.Sprintf("broadcast sent to %d connected + %d push subscribers", live, len(out.Pushes))))
	m.log.Info("admin.broadcast", "by", caller.Name, "sessions", live, "push", len(out.Pushes))
	return out, nil
}

// Announcements returns the recorded announcements, oldest first.
func (m *Manager) Announcements() []v1.Announcement {
	var list []v1.Announcement
	m.store.Read(func(st *store.State) {
		list = make([]v1.Announcement, 0, len(st.Announcements))
		for _, a := range st.Announcements {
			list = append(list, a.Wire())
		}
	})
	return list
}

// GetAnnouncements replies with the recorded announcements.
func (m *Manager) GetAnnouncements(ctx context.Context, _ outbox.Caller) (outbox.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}
	var out outbox.Outcome
	out.Reply(v1.TypeAnnouncements, v1.AnnouncementsPayload{Announcements: m.Announcements()})
	return out, nil
}
