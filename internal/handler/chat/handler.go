package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/chatclient/internal/logging"
	"github.com/zhouzirui/z-tavern/chatclient/internal/model/presence"
	chatService "github.com/zhouzirui/z-tavern/chatclient/internal/service/chat"
	"github.com/zhouzirui/z-tavern/chatclient/pkg/utils"
)

const defaultHeartbeat = 15 * time.Second

// Controller 是处理器依赖的会话控制器接口
type Controller interface {
	OpenChat(ctx context.Context, friend presence.Entry) error
	LoadMore(ctx context.Context) error
	CloseChat(ctx context.Context) error
	Send(ctx context.Context, content string) error
	Friends() []presence.Entry
	Snapshot() chatService.Snapshot
	Watch() (<-chan struct{}, func())
}

// Handler 本地控制接口的HTTP处理器
type Handler struct {
	ctrl      Controller
	heartbeat time.Duration
	log       *logrus.Entry
}

// New 创建聊天处理器
func New(ctrl Controller, logger logrus.FieldLogger) *Handler {
	return &Handler{
		ctrl:      ctrl,
		heartbeat: defaultHeartbeat,
		log:       logging.Component(logger, "http"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/state", h.handleState)
	r.Get("/friends", h.handleFriends)
	r.Get("/events", h.handleEvents)
	r.Post("/chat/open", h.handleOpen)
	r.Post("/chat/more", h.handleLoadMore)
	r.Post("/chat/close", h.handleClose)
	r.Post("/chat/messages", h.handleSend)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *Handler) handleFriends(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.ctrl.Friends())
}

// handleOpen 打开与好友的会话
func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FriendID int64 `json:"friendId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.FriendID <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "friendId is required")
		return
	}

	friend, ok := findFriend(h.ctrl.Friends(), payload.FriendID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "friend not found")
		return
	}

	if err := h.ctrl.OpenChat(r.Context(), friend); err != nil {
		h.respondControllerError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, h.ctrl.Snapshot())
}

func (h *Handler) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.LoadMore(r.Context()); err != nil {
		h.respondControllerError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, h.ctrl.Snapshot())
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.CloseChat(r.Context()); err != nil {
		h.respondControllerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSend 发送消息到当前会话
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.ctrl.Send(r.Context(), payload.Content); err != nil {
		h.respondControllerError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, h.ctrl.Snapshot())
}

// handleEvents 以SSE推送状态快照
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	changes, cancel := h.ctrl.Watch()
	defer cancel()

	utils.SetupSSEHeaders(w)
	ctx := r.Context()
	h.log.Debug("event stream opened")

	if err := utils.SendSSEEvent(w, flusher, "state", h.ctrl.Snapshot()); err != nil {
		h.log.WithError(err).Debug("event stream write failed")
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			h.log.Debug("event stream closed")
			return
		case <-changes:
			err = utils.SendSSEEvent(w, flusher, "state", h.ctrl.Snapshot())
		case t := <-ticker.C:
			err = utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"time": t.UTC().Format(time.RFC3339),
			})
		}
		if err != nil {
			h.log.WithError(err).Debug("event stream write failed")
			return
		}
	}
}

func (h *Handler) respondControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrEmptyDraft):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatService.ErrNoChat), errors.Is(err, chatService.ErrLoading):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chatService.ErrNotRunning):
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		utils.RespondError(w, http.StatusRequestTimeout, err.Error())
	default:
		h.log.WithError(err).Error("controller command failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

func findFriend(friends []presence.Entry, id int64) (presence.Entry, bool) {
	for _, f := range friends {
		if f.UserID == id {
			return f, true
		}
	}
	return presence.Entry{}, false
}
