package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSessionNotFound covers both "no such session" and "not yours".
var ErrSessionNotFound = errors.New("session not found")

// Repo is the transcript store.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) AutoMigrate() error {
	return r.db.AutoMigrate(&Session{}, &Message{})
}

type AppendParams struct {
	UserID      uint64
	SessionID   string
	Role        string
	Content     string
	Model       *string
	ThreatLevel *string
	// Title overrides the derived title when the session is created.
	Title string
}

type AppendResult struct {
	MessageID      uint64
	SessionCreated bool
}

// Append stores one message. The first append for an unseen session id
// creates the session (titled from the first user message); later appends
// only touch updated_at. Appending to another user's session returns
// ErrSessionNotFound.
func (r *Repo) Append(ctx context.Context, p AppendParams) (AppendResult, error) {
	var res AppendResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		title := p.Title
		if title == "" && p.Role == RoleUser {
			title = DeriveTitle(p.Content)
		}

		sess := Session{SessionID: p.SessionID, UserID: p.UserID, Title: title, CreatedAt: now, UpdatedAt: now}
		ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&sess)
		if ins.Error != nil {
			return ins.Error
		}
		res.SessionCreated = ins.RowsAffected == 1

		if !res.SessionCreated {
			var existing Session
			if err := tx.Where("session_id = ?", p.SessionID).First(&existing).Error; err != nil {
				return err
			}
			if existing.UserID != p.UserID {
				return ErrSessionNotFound
			}
			updates := map[string]any{"updated_at": now}
			if existing.Title == "" && title != "" {
				updates["title"] = title
			}
			if err := tx.Model(&Session{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
				return err
			}
		}

		msg := Message{
			SessionID:   p.SessionID,
			UserID:      p.UserID,
			Role:        p.Role,
			Content:     p.Content,
			Model:       p.Model,
			ThreatLevel: p.ThreatLevel,
			CreatedAt:   now,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		res.MessageID = msg.ID
		return nil
	})
	if err != nil {
		return AppendResult{}, err
	}
	return res, nil
}

// RecentMessages returns the newest limit messages, oldest first.
func (r *Repo) RecentMessages(ctx context.Context, userID uint64, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	// reverse to ASC (oldest -> newest)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListMessages returns messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, userID uint64, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("id DESC").
		Limit(limit)

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) GetSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	var s Session
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns the user's sessions, most recently updated first.
func (r *Repo) ListSessions(ctx context.Context, userID uint64) ([]SessionSummary, error) {
	var rows []Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(rows))
	for _, s := range rows {
		title := s.Title
		if title == "" {
			title = defaultTitle
		}
		out = append(out, SessionSummary{ID: s.SessionID, Title: title, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt})
	}
	return out, nil
}

// RenameSession returns false when the session is missing or owned by
// someone else; callers cannot tell the two apart.
func (r *Repo) RenameSession(ctx context.Context, userID uint64, sessionID, title string) (bool, error) {
	s, err := r.GetSession(ctx, userID, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", s.ID).
		Update("title", title).Error; err != nil {
		return false, err
	}
	return true, nil
}

// DeleteSession removes a session and its messages under the same ownership rule.
func (r *Repo) DeleteSession(ctx context.Context, userID uint64, sessionID string) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("session_id = ? AND user_id = ?", sessionID, userID).Delete(&Session{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deleted = true
		return tx.Where("session_id = ? AND user_id = ?", sessionID, userID).Delete(&Message{}).Error
	})
	return deleted, err
}
