package v1

import (
	"encoding/json"
	"time"
)

// ---- Wire models ----

// Message is one entry of a conversation history.
type Message struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	Text      string          `json:"text"`
	TS        time.Time       `json:"ts"`
	Status    string          `json:"status,omitempty"`
	Pinned    bool            `json:"pinned,omitempty"`
	Reported  bool            `json:"reported,omitempty"`
	System    bool            `json:"system,omitempty"`
	Encrypted bool            `json:"encrypted,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Group is a member-listed conversation.
type Group struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Members []string `json:"members"`
}

// Channel is a named sub-channel of a space.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Space is a channelized conversation with an owner and an invite code.
type Space struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Icon     string    `json:"icon,omitempty"`
	Owner    string    `json:"owner"`
	Code     string    `json:"code"`
	Members  []string  `json:"members"`
	Channels []Channel `json:"channels"`
}

// CallInfo describes an active call visible to an identity.
type CallInfo struct {
	Type         string   `json:"type"`
	Participants []string `json:"participants"`
}

// Notification is one entry of an identity's notification queue.
type Notification struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Kind    string    `json:"kind"`
	Date    time.Time `json:"date"`
	Read    bool      `json:"read"`
}

// Report is a moderation report filed against a message.
type Report struct {
	ID           string    `json:"id"`
	Reporter     string    `json:"reporter"`
	ReportedUser string    `json:"reported_user"`
	Message      string    `json:"message"`
	Context      string    `json:"context,omitempty"`
	MessageID    string    `json:"message_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Announcement is a recorded admin broadcast.
type Announcement struct {
	ID      string    `json:"id"`
	Message string    `json:"message"`
	Date    time.Time `json:"date"`
}

// Ban is an IP-scoped ban entry.
type Ban struct {
	IP      string     `json:"ip"`
	Target  string     `json:"target,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Expires *time.Time `json:"expires,omitempty"`
}

// UserInfo is the admin view of an identity.
type UserInfo struct {
	Username string `json:"username"`
	Claimed  bool   `json:"claimed"`
	Email    string `json:"email,omitempty"`
	Online   bool   `json:"online"`
	IP       string `json:"ip,omitempty"`
	Muted    bool   `json:"muted,omitempty"`
}

// ---- Session ----

// HelloPayload is sent by the client to bind the session.
type HelloPayload struct {
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`
}

// HelloAckPayload carries the server session id and the bound identity.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
}

// InitPayload is the initial state snapshot for an identity.
type InitPayload struct {
	Username    string              `json:"username"`
	Claimed     bool                `json:"claimed"`
	Email       string              `json:"email,omitempty"`
	Friends     []string            `json:"friends"`
	Blocked     []string            `json:"blocked"`
	Groups      []Group             `json:"groups"`
	Spaces      []Space             `json:"spaces"`
	ActiveCalls map[string]CallInfo `json:"active_calls"`
}

// ErrorPayload is a protocol error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SystemPayload is a human-readable notice.
type SystemPayload struct {
	Msg string `json:"msg"`
}

// ForceDisconnectPayload precedes a server-initiated close.
type ForceDisconnectPayload struct {
	Reason string `json:"reason"`
}

// ---- Identity ----

type SignupPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Verify2FAPayload struct {
	Username string `json:"username"`
	Code     string `json:"code"`
}

type VerifyTokenPayload struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

type ChangeUsernamePayload struct {
	NewName string `json:"new_name"`
}

// ProfileUpdates lists the fields an update_profile may change. Nil leaves a field as is.
type ProfileUpdates struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
}

type UpdateProfilePayload struct {
	Username string         `json:"username"`
	Token    string         `json:"token"`
	Updates  ProfileUpdates `json:"updates"`
}

type DeleteAccountPayload struct {
	Username string `json:"username"`
	Token    string `json:"token"`
	Password string `json:"password"`
}

type RegisterPublicKeyPayload struct {
	PublicKey string `json:"public_key"`
}

type GetPublicKeyPayload struct {
	Username string `json:"username"`
}

type AuthSuccessPayload struct {
	Username string `json:"username"`
	Token    string `json:"token"`
	Email    string `json:"email,omitempty"`
}

type AuthErrorPayload struct {
	Msg string `json:"msg"`
}

type Auth2FARequiredPayload struct {
	Username string `json:"username"`
}

type UsernameChangedPayload struct {
	NewName string `json:"new_name"`
}

type ProfileUpdateSuccessPayload struct {
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
	Email    string `json:"email,omitempty"`
}

type PublicKeyPayload struct {
	Username  string  `json:"username"`
	PublicKey *string `json:"public_key"`
}

// ---- Social ----

// TargetPayload names another identity.
type TargetPayload struct {
	Target string `json:"target"`
}

type RespondFriendPayload struct {
	From     string `json:"from"`
	Accepted bool   `json:"accepted"`
}

type FriendRequestPayload struct {
	From string `json:"from"`
}

type FriendAddedPayload struct {
	Friend string `json:"friend"`
}

// ---- Conversations ----

type SendDMPayload struct {
	Target    string          `json:"target"`
	Text      string          `json:"text"`
	Encrypted bool            `json:"encrypted,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type MarkDeliveredPayload struct {
	Key string `json:"key"`
	ID  string `json:"id"`
}

type DMPayload struct {
	Key   string  `json:"key"`
	Entry Message `json:"entry"`
}

type DMHistoryPayload struct {
	Key     string    `json:"key"`
	History []Message `json:"history"`
}

type ReceiptUpdatePayload struct {
	Key  string `json:"key"`
	Type string `json:"type"`
	By   string `json:"by"`
	ID   string `json:"id,omitempty"`
}

type CreateGroupPayload struct {
	Label   string   `json:"label"`
	Members []string `json:"members"`
}

type SendGroupPayload struct {
	GroupID string `json:"group_id"`
	Text    string `json:"text"`
}

type UpdateGroupPayload struct {
	GroupID string `json:"group_id"`
	Label   string `json:"label"`
}

// GroupMemberPayload names a group and a target identity (add/kick).
type GroupMemberPayload struct {
	GroupID string `json:"group_id"`
	Target  string `json:"target"`
}

type GroupRefPayload struct {
	GroupID string `json:"group_id"`
}

type GroupMsgPayload struct {
	GroupID string  `json:"group_id"`
	Entry   Message `json:"entry"`
}

type GroupKickedPayload struct {
	GroupID string `json:"group_id"`
	Label   string `json:"label"`
}

type GroupHistoryPayload struct {
	GroupID string    `json:"group_id"`
	History []Message `json:"history"`
}

type CreateSpacePayload struct {
	Name string `json:"name"`
}

type JoinSpacePayload struct {
	Code string `json:"code"`
}

type SpaceRefPayload struct {
	SpaceID string `json:"space_id"`
}

type SendSpaceMsgPayload struct {
	SpaceID   string `json:"space_id"`
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

type UpdateSpacePayload struct {
	SpaceID string  `json:"space_id"`
	Name    *string `json:"name,omitempty"`
	Icon    *string `json:"icon,omitempty"`
}

// SpacePayload wraps a space for created/joined/updated events.
type SpacePayload struct {
	Space Space `json:"space"`
}

type SpaceDataPayload struct {
	Space    Space                `json:"space"`
	Messages map[string][]Message `json:"messages"`
}

type SpaceMsgPayload struct {
	SpaceID   string  `json:"space_id"`
	ChannelID string  `json:"channel_id"`
	Entry     Message `json:"entry"`
}

// MessageRefPayload addresses one message by id and composite context key.
type MessageRefPayload struct {
	ID      string `json:"id"`
	Context string `json:"context"`
}

type MessageUpdatedPayload struct {
	Message Message `json:"message"`
	Context string  `json:"context"`
}

// ---- Calls ----

// CallRefPayload addresses a call context.
// Kind is "dm" (Target set), "group" (ID set) or "space" (ID and optional ChannelID).
type CallRefPayload struct {
	Kind      string `json:"kind"`
	Target    string `json:"target,omitempty"`
	ID        string `json:"id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

type CallSignalPayload struct {
	CallID string          `json:"call_id,omitempty"`
	Target string          `json:"target,omitempty"`
	From   string          `json:"from,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

type CallPresencePayload struct {
	From   string `json:"from"`
	CallID string `json:"call_id"`
}

type CallStatusPayload struct {
	CallID       string   `json:"call_id"`
	Type         string   `json:"type"`
	IsActive     bool     `json:"is_active"`
	Participants []string `json:"participants"`
}

// ---- Moderation ----

type AdminPayload struct {
	Password string `json:"password"`
}

type AdminWarnPayload struct {
	Password string `json:"password"`
	Target   string `json:"target"`
	Message  string `json:"message"`
}

type AdminBanPayload struct {
	Password        string `json:"password"`
	Target          string `json:"target"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type AdminUnbanPayload struct {
	Password string `json:"password"`
	IP       string `json:"ip"`
}

type AdminMutePayload struct {
	Password        string `json:"password"`
	Target          string `json:"target"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

type AdminSendPushPayload struct {
	Password string `json:"password"`
	Target   string `json:"target"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

type AdminBroadcastPayload struct {
	Password string `json:"password"`
	Message  string `json:"message"`
}

type AdminDeleteReportPayload struct {
	Password string `json:"password"`
	ReportID string `json:"report_id"`
}

type AdminVerifiedPayload struct {
	Success bool `json:"success"`
}

type AdminWarningPayload struct {
	Message string `json:"message"`
}

type AdminBansPayload struct {
	Bans []Ban `json:"bans"`
}

type AdminUsersListPayload struct {
	Users []UserInfo `json:"users"`
}

type AdminReportsListPayload struct {
	Reports []Report `json:"reports"`
}

type ReportMessagePayload struct {
	Target    string `json:"target"`
	Text      string `json:"text"`
	Context   string `json:"context,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

type WarningStatusPayload struct {
	Warning bool   `json:"warning"`
	Message string `json:"message,omitempty"`
}

type AnnouncementsPayload struct {
	Announcements []Announcement `json:"announcements"`
}

// ---- Notifications ----

type NotificationRefPayload struct {
	ID string `json:"id"`
}

type NotificationsListPayload struct {
	Notifications []Notification `json:"notifications"`
}
