// Package v1 defines the Lightlink Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol negotiated on /ws.
const Subprotocol = "lightlink.realtime.v1"

// Session handshake.
const (
	// TypeHello binds the session to an identity (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake (server -> client).
	TypeHelloAck = "hello_ack"
	// TypeInit carries the initial state snapshot (server -> client).
	TypeInit = "init"
	// TypeError is a protocol-level error (server -> client).
	TypeError = "error"
	// TypeSystem is a human-readable notice (server -> client).
	TypeSystem = "system"
	// TypeForceDisconnect precedes a server-side close (server -> client).
	TypeForceDisconnect = "force_disconnect"
)

// Identity & session commands (client -> server).
const (
	TypeSignup            = "signup"
	TypeLogin             = "login"
	TypeVerify2FA         = "verify_2fa"
	TypeVerifyToken       = "verify_token"
	TypeChangeUsername    = "change_username"
	TypeUpdateProfile     = "update_profile"
	TypeDeleteAccount     = "delete_account"
	TypeRegisterPublicKey = "register_public_key"
	TypeGetPublicKey      = "get_public_key"
)

// Identity & session events (server -> client).
const (
	TypeAuthSuccess          = "auth_success"
	TypeAuthError            = "auth_error"
	TypeAuth2FARequired      = "auth_2fa_required"
	TypeUsernameChanged      = "username_changed"
	TypeProfileUpdateSuccess = "profile_update_success"
	TypeAccountDeleted       = "account_deleted"
	TypePublicKey            = "public_key"
)

// Social graph.
const (
	TypeRequestFriend = "request_friend"
	TypeRespondFriend = "respond_friend"
	TypeBlockUser     = "block_user"
	TypeUnblockUser   = "unblock_user"
	TypeRemoveFriend  = "remove_friend"

	TypeFriendRequest = "friend_request"
	TypeFriendAdded   = "friend_added"
)

// Conversations.
const (
	TypeSendDM        = "send_dm"
	TypeGetDM         = "get_dm"
	TypeMarkRead      = "mark_read"
	TypeMarkDelivered = "mark_delivered"

	TypeCreateGroup   = "create_group"
	TypeSendGroup     = "send_group"
	TypeUpdateGroup   = "update_group"
	TypeAddToGroup    = "add_to_group"
	TypeKickFromGroup = "kick_from_group"
	TypeGetGroup      = "get_group"

	TypeCreateSpace  = "create_space"
	TypeJoinSpace    = "join_space"
	TypeGetSpace     = "get_space"
	TypeSendSpaceMsg = "send_space_msg"
	TypeLeaveSpace   = "leave_space"
	TypeUpdateSpace  = "update_space"
	TypeDeleteSpace  = "delete_space"

	TypeDeleteMessage = "delete_message"
	TypePinMessage    = "pin_message"
	TypeUnpinMessage  = "unpin_message"

	TypeDM             = "dm"
	TypeDMHistory      = "dm_history"
	TypeReceiptUpdate  = "receipt_update"
	TypeGroupCreated   = "group_created"
	TypeGroupMsg       = "group_msg"
	TypeGroupUpdated   = "group_updated"
	TypeGroupKicked    = "group_kicked"
	TypeGroupHistory   = "group_history"
	TypeSpaceCreated   = "space_created"
	TypeSpaceJoined    = "space_joined"
	TypeSpaceData      = "space_data"
	TypeSpaceMsg       = "space_msg"
	TypeSpaceLeft      = "space_left"
	TypeSpaceUpdated   = "space_updated"
	TypeSpaceDeleted   = "space_deleted"
	TypeMessageDeleted = "message_deleted"
	TypeMessageUpdated = "message_updated"
)

// Calls.
const (
	TypeJoinCall   = "join_call"
	TypeLeaveCall  = "leave_call"
	TypeCallSignal = "call_signal"

	TypeUserJoinedCall    = "user_joined_call"
	TypeUserLeftCall      = "user_left_call"
	TypeCallStatusChanged = "call_status_changed"
)

// Moderation.
const (
	TypeAdminVerify       = "admin_verify"
	TypeAdminWarn         = "admin_warn"
	TypeAdminBan          = "admin_ban"
	TypeAdminUnban        = "admin_unban"
	TypeAdminListBans     = "admin_list_bans"
	TypeAdminListUsers    = "admin_list_users"
	TypeAdminGetAllUsers  = "admin_get_all_users"
	TypeAdminSendPush     = "admin_send_push"
	TypeAdminMute         = "admin_mute"
	TypeAdminUnmute       = "admin_unmute"
	TypeAdminBroadcast    = "admin_broadcast"
	TypeAdminGetReports   = "admin_get_reports"
	TypeAdminDeleteReport = "admin_delete_report"
	TypeReportMessage     = "report_message"
	TypeCheckWarning      = "check_warning"
	TypeGetAnnouncements  = "get_announcements"

	TypeAdminVerified    = "admin_verified"
	TypeAdminWarning     = "admin_warning"
	TypeAdminBans        = "admin_bans"
	TypeAdminUsersList   = "admin_users_list"
	TypeAdminReportsList = "admin_reports_list"
	TypeWarningStatus    = "warning_status"
	TypeAnnouncements    = "announcements"
)

// Notifications and push.
const (
	TypeGetNotifications      = "get_notifications"
	TypeMarkNotificationsRead = "mark_notifications_read"
	TypeDeleteNotification    = "delete_notification"
	TypeTestPush              = "test_push"

	TypeNotification      = "notification"
	TypeNotificationsList = "notifications_list"
)

// Commands is the set of envelope types a client may send.
var Commands = map[string]struct{}{
	TypeHello: {},

	TypeSignup: {}, TypeLogin: {}, TypeVerify2FA: {}, TypeVerifyToken: {},
	TypeChangeUsername: {}, TypeUpdateProfile: {}, TypeDeleteAccount: {},
	TypeRegisterPublicKey: {}, TypeGetPublicKey: {},

	TypeRequestFriend: {}, TypeRespondFriend: {}, TypeBlockUser: {},
	TypeUnblockUser: {}, TypeRemoveFriend: {},

	TypeSendDM: {}, TypeGetDM: {}, TypeMarkRead: {}, TypeMarkDelivered: {},
	TypeCreateGroup: {}, TypeSendGroup: {}, TypeUpdateGroup: {},
	TypeAddToGroup: {}, TypeKickFromGroup: {}, TypeGetGroup: {},
	TypeCreateSpace: {}, TypeJoinSpace: {}, TypeGetSpace: {},
	TypeSendSpaceMsg: {}, TypeLeaveSpace: {}, TypeUpdateSpace: {}, TypeDeleteSpace: {},
	TypeDeleteMessage: {}, TypePinMessage: {}, TypeUnpinMessage: {},

	TypeJoinCall: {}, TypeLeaveCall: {}, TypeCallSignal: {},

	TypeAdminVerify: {}, TypeAdminWarn: {}, TypeAdminBan: {}, TypeAdminUnban: {},
	TypeAdminListBans: {}, TypeAdminListUsers: {}, TypeAdminGetAllUsers: {},
	TypeAdminSendPush: {}, TypeAdminMute: {}, TypeAdminUnmute: {},
	TypeAdminBroadcast: {}, TypeAdminGetReports: {}, TypeAdminDeleteReport: {},
	TypeReportMessage: {}, TypeCheckWarning: {}, TypeGetAnnouncements: {},

	TypeGetNotifications: {}, TypeMarkNotificationsRead: {},
	TypeDeleteNotification: {}, TypeTestPush: {},
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for a client-sent Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if _, ok := Commands[e.Type]; !ok {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	return nil
}

// Decode unmarshals the payload into dst. An absent payload decodes as an empty object.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
