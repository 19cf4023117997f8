package models

import "sort"

// LikeEmoji is the reaction key backing the legacy like counters. LikeCount
// and LikedBy are derived from this entry, never written independently.
const LikeEmoji = "\U0001F44D"

// DeletedPlaceholder is substituted for the text of soft-deleted messages
// whenever they are serialized for clients.
const DeletedPlaceholder = "[deleted]"

// EditRecord captures one prior revision of a message's text.
type EditRecord struct {
	PreviousText string `json:"previousText"`
	EditedAt     int64  `json:"editedAt"`
}

// Message is the persistent chat message entity. ID is server-assigned and
// immutable; CreatedAt is the server clock in unix nanoseconds. IsDeleted is
// monotonic and EditHistory only grows.
type Message struct {
	ID         string `json:"id"`
	ParentID   string `json:"parentId,omitempty"`
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName,omitempty"`
	Text       string `json:"text"`
	CreatedAt  int64  `json:"createdAt"`

	IsEdited    bool         `json:"isEdited,omitempty"`
	EditHistory []EditRecord `json:"editHistory,omitempty"`
	IsDeleted   bool         `json:"isDeleted,omitempty"`

	// Reactions maps emoji -> set of reacting user ids.
	Reactions map[string]map[string]bool `json:"reactions,omitempty"`

	// Legacy like counters, derived from the LikeEmoji reaction entry by
	// RefreshLikes. Kept in the wire shape for older clients.
	LikeCount int      `json:"likeCount"`
	LikedBy   []string `json:"likedBy,omitempty"`
}

// HasReaction reports whether userID is in the reactor set for emoji.
func (m *Message) HasReaction(emoji, userID string) bool {
	return m.Reactions[emoji][userID]
}

// ToggleReaction adds userID to the emoji's reactor set if absent, removes
// it if present, and re-derives the like counters. Toggling twice restores
// the original state. Callers are responsible for persistence atomicity.
func (m *Message) ToggleReaction(emoji, userID string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string]map[string]bool)
	}
	set := m.Reactions[emoji]
	if set[userID] {
		delete(set, userID)
		if len(set) == 0 {
			delete(m.Reactions, emoji)
		}
	} else {
		if set == nil {
			set = make(map[string]bool)
			m.Reactions[emoji] = set
		}
		set[userID] = true
	}
	m.RefreshLikes()
}

// RefreshLikes recomputes LikeCount/LikedBy from the LikeEmoji reactor set.
func (m *Message) RefreshLikes() {
	set := m.Reactions[LikeEmoji]
	m.LikeCount = len(set)
	if len(set) == 0 {
		m.LikedBy = nil
		return
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	m.LikedBy = ids
}

// Redacted returns a copy safe to serialize for clients. Soft-deleted
// messages keep their id and thread relationship but expose no stored text,
// including prior revisions.
func (m Message) Redacted() Message {
	m.RefreshLikes()
	if !m.IsDeleted {
		return m
	}
	m.Text = DeletedPlaceholder
	m.EditHistory = nil
	return m
}

// Pagination is the metadata attached to every paginated listing.
// TotalPages is always ceil(TotalItems/PageSize).
type Pagination struct {
	TotalItems  int `json:"totalItems"`
	TotalPages  int `json:"totalPages"`
	CurrentPage int `json:"currentPage"`
	PageSize    int `json:"pageSize"`
}

// NewPagination derives consistent pagination metadata.
func NewPagination(totalItems, page, pageSize int) Pagination {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (totalItems + pageSize - 1) / pageSize
	}
	return Pagination{TotalItems: totalItems, TotalPages: totalPages, CurrentPage: page, PageSize: pageSize}
}

// PresenceEntry is one connected user as broadcast to all sessions.
type PresenceEntry struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}
