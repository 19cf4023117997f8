// Package service implements the server-side message lifecycle: create,
// edit, soft-delete, reply, reaction toggle, search and paginated listing,
// with ownership enforcement. It is the source of truth clients reconcile
// against.
package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/utils"
	"chatsync/pkg/validation"
)

const (
	minPageSize     = 1
	maxPageSize     = 100
	defaultPageSize = 20
)

// Create validates and persists a new message. The id and timestamp are
// server-assigned; client-supplied timestamps are never trusted for
// ordering. A non-empty parentID makes the message a reply and must resolve
// to an existing top-level message.
func Create(authorID, authorName, text, parentID string) (models.Message, error) {
	var m models.Message
	if authorID == "" {
		return m, fmt.Errorf("%w: author is required", ErrInvalidArgument)
	}
	if err := validation.MessageText(text); err != nil {
		return m, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}
	if parentID != "" {
		parent, err := store.GetMessage(parentID)
		if err != nil {
			return m, fmt.Errorf("parent %s: %w", parentID, err)
		}
		// Threads are one level deep: a reply cannot itself be a parent.
		if parent.ParentID != "" {
			return m, fmt.Errorf("%w: cannot reply to a reply", ErrInvalidArgument)
		}
	}
	m = models.Message{
		ID:         utils.GenMessageID(),
		ParentID:   parentID,
		AuthorID:   authorID,
		AuthorName: authorName,
		Text:       text,
		CreatedAt:  time.Now().UTC().UnixNano(),
	}
	if err := store.SaveMessage(m); err != nil {
		return m, err
	}
	logger.Log.Info("message_created", zap.String("id", m.ID), zap.String("author", authorID), zap.String("parent", parentID))
	return m, nil
}

// Reply creates a message threaded under parentID. It shares Create's
// contract and fails with ErrNotFound when the parent does not resolve.
func Reply(authorID, authorName, text, parentID string) (models.Message, error) {
	if parentID == "" {
		return models.Message{}, fmt.Errorf("%w: parentId is required", ErrInvalidArgument)
	}
	return Create(authorID, authorName, text, parentID)
}

// Edit replaces a message's text. Only the author may edit; soft-deleted
// messages cannot be edited. The pre-edit text is appended to EditHistory
// before the new text is applied.
func Edit(messageID, userID, newText string) (models.Message, error) {
	if err := validation.MessageText(newText); err != nil {
		return models.Message{}, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}
	m, err := store.UpdateMessage(messageID, func(m *models.Message) error {
		if m.AuthorID != userID {
			return ErrNotAuthorized
		}
		if m.IsDeleted {
			return fmt.Errorf("%w: message is deleted", ErrInvalidState)
		}
		m.EditHistory = append(m.EditHistory, models.EditRecord{
			PreviousText: m.Text,
			EditedAt:     time.Now().UTC().UnixNano(),
		})
		m.Text = newText
		m.IsEdited = true
		return nil
	})
	if err != nil {
		return m, err
	}
	logger.Log.Info("message_edited", zap.String("id", messageID), zap.String("user", userID))
	return m, nil
}

// SoftDelete marks a message deleted. Only the author may delete. The text
// stays stored but is masked in every serialization from then on; deleting
// an already-deleted message is a no-op.
func SoftDelete(messageID, userID string) (models.Message, error) {
	m, err := store.UpdateMessage(messageID, func(m *models.Message) error {
		if m.AuthorID != userID {
			return ErrNotAuthorized
		}
		m.IsDeleted = true
		return nil
	})
	if err != nil {
		return m, err
	}
	logger.Log.Info("message_deleted", zap.String("id", messageID), zap.String("user", userID))
	return m, nil
}

// ToggleReaction flips userID's membership in the emoji's reactor set. It
// is an involution per (user, emoji, message) and runs inside the store's
// writer lock, so racing toggles for the same message cannot lose updates.
func ToggleReaction(messageID, userID, emoji string) (models.Message, error) {
	if userID == "" {
		return models.Message{}, fmt.Errorf("%w: user is required", ErrInvalidArgument)
	}
	if err := validation.Emoji(emoji); err != nil {
		return models.Message{}, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}
	m, err := store.UpdateMessage(messageID, func(m *models.Message) error {
		if m.IsDeleted {
			return fmt.Errorf("%w: message is deleted", ErrInvalidState)
		}
		m.ToggleReaction(emoji, userID)
		return nil
	})
	if err != nil {
		return m, err
	}
	logger.Log.Debug("reaction_toggled", zap.String("id", messageID), zap.String("user", userID), zap.String("emoji", emoji))
	return m, nil
}

// Get returns the redacted message for id.
func Get(messageID string) (models.Message, error) {
	m, err := store.GetMessage(messageID)
	if err != nil {
		return m, err
	}
	return m.Redacted(), nil
}

// List returns the top-level feed newest-first. Replies are excluded; they
// are fetched per parent via ListReplies.
func List(page, pageSize int) ([]models.Message, models.Pagination, error) {
	page, pageSize = clampPage(page, pageSize)
	ids, err := store.ListIDsNewestFirst()
	if err != nil {
		return nil, models.Pagination{}, err
	}
	var feed []models.Message
	for _, id := range ids {
		m, err := store.GetMessage(id)
		if err != nil {
			continue
		}
		if m.ParentID != "" {
			continue
		}
		feed = append(feed, m)
	}
	total := len(feed)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	out := make([]models.Message, 0, end-start)
	for _, m := range feed[start:end] {
		out = append(out, m.Redacted())
	}
	return out, models.NewPagination(total, page, pageSize), nil
}

// ListReplies returns direct replies to parentID oldest-first, the natural
// reading order for a thread. Fails with ErrNotFound when the parent does
// not resolve.
func ListReplies(parentID string) ([]models.Message, error) {
	if _, err := store.GetMessage(parentID); err != nil {
		return nil, err
	}
	ids, err := store.ListReplyIDs(parentID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		m, err := store.GetMessage(id)
		if err != nil {
			continue
		}
		out = append(out, m.Redacted())
	}
	return out, nil
}

// Search returns non-deleted messages matching query, ordered by relevance
// score then recency. An empty query is rejected.
func Search(query string, page, pageSize int) ([]models.Message, models.Pagination, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, models.Pagination{}, fmt.Errorf("%w: query is required", ErrInvalidArgument)
	}
	page, pageSize = clampPage(page, pageSize)

	type scored struct {
		m     models.Message
		score int
	}
	var hits []scored
	err := store.ScanMessages(func(m models.Message) bool {
		if m.IsDeleted {
			return true
		}
		score := strings.Count(strings.ToLower(m.Text), q)
		if strings.Contains(strings.ToLower(m.AuthorName), q) {
			score++
		}
		if score > 0 {
			hits = append(hits, scored{m: m, score: score})
		}
		return true
	})
	if err != nil {
		return nil, models.Pagination{}, err
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].m.CreatedAt > hits[j].m.CreatedAt
	})

	total := len(hits)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	out := make([]models.Message, 0, end-start)
	for _, h := range hits[start:end] {
		out = append(out, h.m.Redacted())
	}
	logger.Log.Debug("search_done", zap.String("query", q), zap.Int("hits", total))
	return out, models.NewPagination(total, page, pageSize), nil
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < minPageSize {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
