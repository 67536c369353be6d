package notifier

import (
	"errors"
	"strings"
)

// Priority mirrors the ntfy priority scale.
type Priority int

const (
	PriorityMin Priority = iota + 1
	PriorityLow
	PriorityDefault
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityMin:
		return "min"
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "default"
	}
}

// ParsePriority accepts the ntfy names and numeric levels 1-5.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "min", "1":
		return PriorityMin, nil
	case "low", "2":
		return PriorityLow, nil
	case "", "default", "3":
		return PriorityDefault, nil
	case "high", "4":
		return PriorityHigh, nil
	case "urgent", "max", "5":
		return PriorityUrgent, nil
	}
	return PriorityDefault, errors.New("unknown priority: " + s)
}

// Kind discriminates notifications for broadcast subscribers.
type Kind string

const (
	KindPermission      Kind = "permission"
	KindConversationEnd Kind = "conversation-end"
	KindTest            Kind = "test"
)

// UnknownSession is used when the caller has no session id.
const UnknownSession = "unknown"

// Channel names used in events and reports.
const (
	ChannelNtfy    = "ntfy"
	ChannelWebPush = "webpush"
)

var (
	ErrMissingStreamingID = errors.New("notification streaming id is required")
	ErrPermissionIDKind   = errors.New("permission request id must be set exactly for permission notifications")
)

// Notification is the channel-agnostic message handed to every channel.
// Treat it as immutable; Tags returns a copy.
type Notification struct {
	Title               string
	Message             string
	Priority            Priority
	tags                []string
	SessionID           string
	StreamingID         string
	PermissionRequestID string
	Kind                Kind
}

// PermissionRequest is the domain event raised when a tool needs approval.
type PermissionRequest struct {
	ID          string `json:"id"`
	ToolName    string `json:"toolName"`
	ToolInput   any    `json:"toolInput"`
	StreamingID string `json:"streamingId"`
}

const (
	permissionTitle      = "Permission Request"
	permissionTag        = "cui-permission"
	conversationEndTitle = "Task Finished"
	conversationEndTag   = "cui-complete"
	conversationEndText  = "Task completed"
	testTitle            = "Test Notification"
	testTag              = "cui-test"
)

func NewPermissionNotification(req PermissionRequest, sessionID, message string) Notification {
	return Notification{
		Title:               permissionTitle,
		Message:             message,
		Priority:            PriorityDefault,
		tags:                []string{permissionTag},
		SessionID:           sessionOrUnknown(sessionID),
		StreamingID:         req.StreamingID,
		PermissionRequestID: req.ID,
		Kind:                KindPermission,
	}
}

func NewConversationEndNotification(streamingID, sessionID, summary string) Notification {
	msg := summary
	if msg == "" {
		msg = conversationEndText
	}
	return Notification{
		Title:       conversationEndTitle,
		Message:     msg,
		Priority:    PriorityDefault,
		tags:        []string{conversationEndTag},
		SessionID:   sessionOrUnknown(sessionID),
		StreamingID: streamingID,
		Kind:        KindConversationEnd,
	}
}

func newTestNotification(streamingID string) Notification {
	return Notification{
		Title:       testTitle,
		Message:     "Notifications are working.",
		Priority:    PriorityLow,
		tags:        []string{testTag},
		SessionID:   UnknownSession,
		StreamingID: streamingID,
		Kind:        KindTest,
	}
}

func sessionOrUnknown(id string) string {
	if id == "" {
		return UnknownSession
	}
	return id
}

// Tags returns a copy of the tag list.
func (n Notification) Tags() []string {
	return append([]string(nil), n.tags...)
}

// PrimaryTag is the first tag, used as the broadcast tag.
func (n Notification) PrimaryTag() string {
	if len(n.tags) == 0 {
		return ""
	}
	return n.tags[0]
}

func (n Notification) Validate() error {
	if n.StreamingID == "" {
		return ErrMissingStreamingID
	}
	if (n.PermissionRequestID != "") != (n.Kind == KindPermission) {
		return ErrPermissionIDKind
	}
	return nil
}
