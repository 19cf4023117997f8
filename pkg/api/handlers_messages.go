package api

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/gorilla/mux"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/service"
	"chatsync/pkg/utils"
)

type pageResponse struct {
	Messages   []models.Message  `json:"messages"`
	Pagination models.Pagination `json:"pagination"`
}

func listMessages(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	msgs, pg, err := service.List(page, pageSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	logger.Log.Debug("messages_list", zap.Int("page", pg.CurrentPage), zap.Int("count", len(msgs)))
	_ = utils.JSONWrite(w, http.StatusOK, pageResponse{Messages: msgs, Pagination: pg})
}

func searchMessages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if strings.TrimSpace(query) == "" {
		utils.JSONError(w, http.StatusBadRequest, "query is required")
		return
	}
	page, pageSize := pageParams(r)
	msgs, pg, err := service.Search(query, page, pageSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, pageResponse{Messages: msgs, Pagination: pg})
}

func listReplies(w http.ResponseWriter, r *http.Request) {
	parentID := mux.Vars(r)["parentId"]
	if !validMessageID(parentID) {
		utils.JSONError(w, http.StatusBadRequest, "malformed message id")
		return
	}
	replies, err := service.ListReplies(parentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if replies == nil {
		replies = []models.Message{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Replies []models.Message `json:"replies"`
	}{Replies: replies})
}

func pageParams(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = 20
	if s := r.URL.Query().Get("page"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			page = n
		}
	}
	if s := r.URL.Query().Get("pageSize"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			pageSize = n
		}
	}
	return page, pageSize
}

// validMessageID accepts the server id shape ("msg-<ts>-<seq>") without
// hitting the store; anything else is a 400 rather than a 404.
func validMessageID(id string) bool {
	if !strings.HasPrefix(id, "msg-") || len(id) < 6 {
		return false
	}
	for _, c := range id[4:] {
		if (c < '0' || c > '9') && c != '-' {
			return false
		}
	}
	return true
}
