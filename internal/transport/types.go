package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID       int
	ChatID   int64
	ThreadID int // forum topic thread id (0 if none)
	IsGroup  bool

	FromID        int64
	FromUsername  string
	FromFirstName string
	FromLastName  string
	FromIsBot     bool

	// Text is empty for media-only messages. Those still count as activity.
	Text string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
}

// Role is a chat membership role as reported by the platform.
type Role string

const (
	RoleCreator       Role = "creator"
	RoleAdministrator Role = "administrator"
	RoleMember        Role = "member"
	RoleRestricted    Role = "restricted"
	RoleLeft          Role = "left"
	RoleKicked        Role = "kicked"
)

// Privileged reports whether the role may operate campaigns.
func (r Role) Privileged() bool { return r == RoleCreator || r == RoleAdministrator }

// Member is a chat member identity as reported by the platform.
type Member struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	IsBot     bool
	Role      Role
}

// RoleLookup resolves membership roles. SelfID is the bot's own user id.
type RoleLookup interface {
	MemberRole(ctx context.Context, chatID, userID int64) (Role, error)
	SelfID() int64
}

// AdminLister lists the administrators of a chat.
type AdminLister interface {
	Administrators(ctx context.Context, chatID int64) ([]Member, error)
}

// SelfNamer reports the bot's own username, without the leading "@".
type SelfNamer interface {
	SelfUsername() string
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update the platform command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
