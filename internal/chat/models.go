package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Session struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"session_id"`
	UserID    uint64    `gorm:"index;not null" json:"-"`
	Title     string    `gorm:"type:varchar(255);not null;default:''" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

type Message struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID   string    `gorm:"type:varchar(64);not null;index:idx_chat_msg_user_session_id,priority:2" json:"session_id"`
	UserID      uint64    `gorm:"not null;index:idx_chat_msg_user_session_id,priority:1" json:"-"`
	Role        string    `gorm:"type:varchar(16);not null" json:"role"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Model       *string   `gorm:"type:varchar(128)" json:"model,omitempty"`
	ThreatLevel *string   `gorm:"type:varchar(16)" json:"threat_level,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// SessionSummary is what session lists carry over the wire.
type SessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	titleMaxRunes = 30
	defaultTitle  = "New Chat"
)

// DeriveTitle turns a first user message into a session title.
func DeriveTitle(content string) string {
	r := []rune(content)
	if len(r) > titleMaxRunes {
		return string(r[:titleMaxRunes]) + "..."
	}
	return content
}
