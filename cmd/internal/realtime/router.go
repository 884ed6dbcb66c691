package realtime

import (
	"context"
	"errors"
	"fmt"

	"lightlink/cmd/internal/account"
	"lightlink/cmd/internal/calls"
	"lightlink/cmd/internal/conversation"
	"lightlink/cmd/internal/metrics"
	"lightlink/cmd/internal/moderation"
	"lightlink/cmd/internal/notify"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/social"
	v1 "lightlink/contracts/realtime/v1"
)

var (
	errBadPayload  = errors.New("realtime: bad payload")
	errUnsupported = errors.New("realtime: unsupported type")
)

// Services are the command managers and side-effect runners behind the gateway.
type Services struct {
	Accounts      *account.Manager
	Social        *social.Manager
	Conversations *conversation.Engine
	Calls         *calls.Coordinator
	Moderation    *moderation.Manager
	Notifications *notify.Center

	// Dispatcher runs pushes, emails and relays. Nil drops them.
	Dispatcher *notify.Dispatcher
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

type handlerFunc func(ctx context.Context, caller outbox.Caller, env v1.Envelope) (outbox.Outcome, error)

// Router maps envelope types to manager commands.
type Router struct {
	handlers map[string]handlerFunc
}

// with decodes the envelope payload into P before calling fn.
func with[P any](fn func(context.Context, outbox.Caller, P) (outbox.Outcome, error)) handlerFunc {
	return func(ctx context.Context, caller outbox.Caller, env v1.Envelope) (outbox.Outcome, error) {
		var p P
		if err := env.Decode(&p); err != nil {
			return outbox.Outcome{}, fmt.Errorf("%w: %v", errBadPayload, err)
		}
		return fn(ctx, caller, p)
	}
}

func bare(fn func(context.Context, outbox.Caller) (outbox.Outcome, error)) handlerFunc {
	return func(ctx context.Context, caller outbox.Caller, _ v1.Envelope) (outbox.Outcome, error) {
		return fn(ctx, caller)
	}
}

// NewRouter wires every client command except hello, which the gateway owns.
func NewRouter(svc Services) *Router {
	a, s, c, k, m, n := svc.Accounts, svc.Social, svc.Conversations, svc.Calls, svc.Moderation, svc.Notifications

	return &Router{handlers: map[string]handlerFunc{
		v1.TypeSignup:            with(a.Signup),
		v1.TypeLogin:             with(a.Login),
		v1.TypeVerify2FA:         with(a.Verify2FA),
		v1.TypeVerifyToken:       with(a.VerifyToken),
		v1.TypeChangeUsername:    with(a.ChangeUsername),
		v1.TypeUpdateProfile:     with(a.UpdateProfile),
		v1.TypeDeleteAccount:     with(a.DeleteAccount),
		v1.TypeRegisterPublicKey: with(a.RegisterPublicKey),
		v1.TypeGetPublicKey:      with(a.GetPublicKey),

		v1.TypeRequestFriend: with(s.RequestFriend),
		v1.TypeRespondFriend: with(s.RespondFriend),
		v1.TypeBlockUser:     with(s.Block),
		v1.TypeUnblockUser:   with(s.Unblock),
		v1.TypeRemoveFriend:  with(s.RemoveFriend),

		v1.TypeSendDM:        with(c.SendDM),
		v1.TypeGetDM:         with(c.GetDM),
		v1.TypeMarkRead:      with(c.MarkRead),
		v1.TypeMarkDelivered: with(c.MarkDelivered),

		v1.TypeCreateGroup:   with(c.CreateGroup),
		v1.TypeSendGroup:     with(c.SendGroup),
		v1.TypeUpdateGroup:   with(c.UpdateGroup),
		v1.TypeAddToGroup:    with(c.AddToGroup),
		v1.TypeKickFromGroup: with(c.KickFromGroup),
		v1.TypeGetGroup:      with(c.GetGroup),

		v1.TypeCreateSpace:  with(c.CreateSpace),
		v1.TypeJoinSpace:    with(c.JoinSpace),
		v1.TypeGetSpace:     with(c.GetSpace),
		v1.TypeSendSpaceMsg: with(c.SendSpaceMsg),
		v1.TypeLeaveSpace:   with(c.LeaveSpace),
		v1.TypeUpdateSpace:  with(c.UpdateSpace),
		v1.TypeDeleteSpace:  with(c.DeleteSpace),

		v1.TypeDeleteMessage: with(c.DeleteMessage),
		v1.TypePinMessage:    with(c.PinMessage),
		v1.TypeUnpinMessage:  with(c.UnpinMessage),

		v1.TypeJoinCall:   with(k.Join),
		v1.TypeLeaveCall:  with(k.Leave),
		v1.TypeCallSignal: with(k.Signal),

		v1.TypeAdminVerify:       with(m.Verify),
		v1.TypeAdminWarn:         with(m.Warn),
		v1.TypeAdminBan:          with(m.Ban),
		v1.TypeAdminUnban:        with(m.Unban),
		v1.TypeAdminListBans:     with(m.ListBans),
		v1.TypeAdminListUsers:    with(m.ListUsers),
		v1.TypeAdminGetAllUsers:  with(m.AllUsers),
		v1.TypeAdminSendPush:     with(m.SendPush),
		v1.TypeAdminMute:         with(m.Mute),
		v1.TypeAdminUnmute:       with(m.Unmute),
		v1.TypeAdminBroadcast:    with(m.Broadcast),
		v1.TypeAdminGetReports:   with(m.Reports),
		v1.TypeAdminDeleteReport: with(m.DeleteReport),
		v1.TypeReportMessage:     with(m.ReportMessage),
		v1.TypeCheckWarning:      bare(m.CheckWarning),
		v1.TypeGetAnnouncements:  bare(m.GetAnnouncements),

		v1.TypeGetNotifications:      bare(n.List),
		v1.TypeMarkNotificationsRead: bare(n.MarkRead),
		v1.TypeDeleteNotification:    with(n.Delete),
		v1.TypeTestPush:              bare(n.TestPush),
	}}
}

// Handle runs the command named by env.Type for caller.
func (r *Router) Handle(ctx context.Context, caller outbox.Caller, env v1.Envelope) (outbox.Outcome, error) {
	h, ok := r.handlers[env.Type]
	if !ok {
		return outbox.Outcome{}, fmt.Errorf("%w: %s", errUnsupported, env.Type)
	}
	return h(ctx, caller, env)
}

// Handles reports whether typ is routed.
func (r *Router) Handles(typ string) bool {
	_, ok := r.handlers[typ]
	return ok
}
