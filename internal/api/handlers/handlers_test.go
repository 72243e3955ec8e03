package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"lexidraft-realtime/internal/adapters/storage"
	"lexidraft-realtime/internal/api/middleware"
	"lexidraft-realtime/internal/auth"
	"lexidraft-realtime/internal/chat"
	"lexidraft-realtime/internal/notification"
	"lexidraft-realtime/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// asUser stands in for RequireAuth.
func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Next()
	}
}

func doRequest(t *testing.T, engine *gin.Engine, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

type fakeNotificationService struct {
	notifyReq   *notification.NotifyRequest
	notifyErr   error
	broadcastN  int
	inbox       []*notification.NotificationResponse
	unreadOnly  bool
	markReadErr error
}

func (f *fakeNotificationService) Notify(_ context.Context, req *notification.NotifyRequest) (*notification.NotifyResult, error) {
	f.notifyReq = req
	if f.notifyErr != nil {
		return nil, f.notifyErr
	}
	return &notification.NotifyResult{Delivered: []string{"42"}, Pending: []string{"7"}}, nil
}

func (f *fakeNotificationService) Broadcast(data json.RawMessage) (int, error) {
	if len(data) > 0 && !json.Valid(data) {
		return 0, notification.ErrInvalidData
	}
	return f.broadcastN, nil
}

func (f *fakeNotificationService) Inbox(_ context.Context, _ string, unreadOnly bool, _ int) ([]*notification.NotificationResponse, error) {
	f.unreadOnly = unreadOnly
	return f.inbox, nil
}

func (f *fakeNotificationService) MarkRead(context.Context, string, string) error {
	return f.markReadErr
}

func notificationEngine(svc NotificationService) *gin.Engine {
	h := NewNotificationHandler(svc)
	r := gin.New()
	r.Use(asUser("42"))
	r.POST("/notifications", h.Notify)
	r.GET("/notifications", h.Inbox)
	r.PUT("/notifications/:id/read", h.MarkRead)
	r.POST("/broadcast", h.Broadcast)
	return r
}

func TestNotifyReportsDeliveredAndPending(t *testing.T) {
	svc := &fakeNotificationService{}
	body := `{"userIds":["42","7"],"kind":"booking.confirmed","data":{"bookingId":"b1"}}`

	w := doRequest(t, notificationEngine(svc), http.MethodPost, "/notifications", bytes.NewBufferString(body), "application/json")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"42", "7"}, svc.notifyReq.UserIDs)
	assert.Equal(t, "booking.confirmed", svc.notifyReq.Kind)
	out := decodeBody(t, w)
	assert.Equal(t, []any{"42"}, out["delivered"])
	assert.Equal(t, []any{"7"}, out["pending"])
}

func TestNotifyValidationErrorIsBadRequest(t *testing.T) {
	svc := &fakeNotificationService{notifyErr: notification.ErrNoRecipients}

	w := doRequest(t, notificationEngine(svc), http.MethodPost, "/notifications", bytes.NewBufferString(`{"kind":"x"}`), "application/json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotifyStorageFailureIsInternalError(t *testing.T) {
	svc := &fakeNotificationService{notifyErr: errors.New("db down")}

	w := doRequest(t, notificationEngine(svc), http.MethodPost, "/notifications", bytes.NewBufferString(`{"userIds":["1"],"kind":"x"}`), "application/json")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}

func TestBroadcastReturnsRecipientCount(t *testing.T) {
	svc := &fakeNotificationService{broadcastN: 3}

	w := doRequest(t, notificationEngine(svc), http.MethodPost, "/broadcast", bytes.NewBufferString(`{"data":{"msg":"maintenance"}}`), "application/json")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decodeBody(t, w)["recipients"])
}

func TestInboxPassesUnreadFilter(t *testing.T) {
	svc := &fakeNotificationService{}

	w := doRequest(t, notificationEngine(svc), http.MethodGet, "/notifications?unread=true", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.unreadOnly)
	assert.Equal(t, []any{}, decodeBody(t, w)["notifications"])
}

func TestMarkReadNotFound(t *testing.T) {
	svc := &fakeNotificationService{markReadErr: notification.ErrNotificationNotFound}

	w := doRequest(t, notificationEngine(svc), http.MethodPut, "/notifications/abc/read", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	svc.markReadErr = nil
	w = doRequest(t, notificationEngine(svc), http.MethodPut, "/notifications/abc/read", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

type fakeChatHistory struct {
	messages []*chat.MessageResponse
	after    chat.Cursor
	limit    int
	roomErr  error
	granted  map[string][]string
}

func (f *fakeChatHistory) Conversation(_ context.Context, _, _ string, after chat.Cursor, limit int) ([]*chat.MessageResponse, error) {
	f.after, f.limit = after, limit
	return f.messages, nil
}

func (f *fakeChatHistory) RoomHistory(context.Context, string, string, chat.Cursor, int) ([]*chat.MessageResponse, error) {
	return f.messages, f.roomErr
}

func (f *fakeChatHistory) GrantRoomAccess(_ context.Context, roomID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return chat.ErrInvalidMessage
	}
	if f.granted == nil {
		f.granted = map[string][]string{}
	}
	f.granted[roomID] = append(f.granted[roomID], userIDs...)
	return nil
}

func chatEngine(history ChatService) *gin.Engine {
	h := NewChatHandler(history)
	r := gin.New()
	r.Use(asUser("42"))
	r.GET("/messages/:peer", h.GetConversation)
	r.GET("/rooms/:id/messages", h.GetRoomMessages)
	r.POST("/rooms/:id/participants", h.GrantRoomAccess)
	return r
}

func TestGrantRoomAccess(t *testing.T) {
	history := &fakeChatHistory{}

	w := doRequest(t, chatEngine(history), http.MethodPost, "/rooms/consult-1/participants",
		bytes.NewBufferString(`{"userIds":["client","lawyer"]}`), "application/json")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"client", "lawyer"}, history.granted["consult-1"])

	w = doRequest(t, chatEngine(history), http.MethodPost, "/rooms/consult-1/participants",
		bytes.NewBufferString(`{"userIds":[]}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetConversationFullPageHasCursor(t *testing.T) {
	oldest := time.UnixMicro(1_700_000_000_001_400).UTC()
	history := &fakeChatHistory{messages: []*chat.MessageResponse{
		{ID: "m2", CreatedAt: oldest.Add(500 * time.Microsecond)},
		{ID: "m1", CreatedAt: oldest},
	}}

	w := doRequest(t, chatEngine(history), http.MethodGet, "/messages/7?limit=2&before=1700000000009000_m9", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, history.limit)
	assert.Equal(t, "m9", history.after.ID)
	assert.True(t, history.after.CreatedAt.Equal(time.UnixMicro(1_700_000_000_009_000)))
	out := decodeBody(t, w)
	assert.Len(t, out["messages"], 2)
	assert.Equal(t, "1700000000001400_m1", out["nextCursor"])
}

func TestNextCursorKeepsSubMillisecondPosition(t *testing.T) {
	oldest := time.UnixMicro(1_700_000_000_001_200).UTC()
	history := &fakeChatHistory{messages: []*chat.MessageResponse{
		{ID: "a", CreatedAt: oldest.Add(700 * time.Microsecond)},
		{ID: "c", CreatedAt: oldest},
	}}

	w := doRequest(t, chatEngine(history), http.MethodGet, "/messages/7?limit=2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	next, _ := decodeBody(t, w)["nextCursor"].(string)

	w = doRequest(t, chatEngine(history), http.MethodGet, "/messages/7?limit=2&before="+next, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, history.after.CreatedAt.Equal(oldest), "cursor must not round to the millisecond")
	assert.Equal(t, "c", history.after.ID)
}

func TestGetConversationPartialPageHasNoCursor(t *testing.T) {
	history := &fakeChatHistory{}

	w := doRequest(t, chatEngine(history), http.MethodGet, "/messages/7", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	out := decodeBody(t, w)
	assert.Equal(t, []any{}, out["messages"])
	assert.NotContains(t, out, "nextCursor")
}

func TestGetConversationRejectsBadCursor(t *testing.T) {
	w := doRequest(t, chatEngine(&fakeChatHistory{}), http.MethodGet, "/messages/7?before=1700000000000", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRoomMessagesRequiresMembership(t *testing.T) {
	history := &fakeChatHistory{roomErr: chat.ErrNotRoomMember}

	w := doRequest(t, chatEngine(history), http.MethodGet, "/rooms/consult-1/messages", nil, "")

	assert.Equal(t, http.StatusForbidden, w.Code)
}

type fakeUploader struct {
	owner string
	data  []byte
}

func (f *fakeUploader) Upload(_ context.Context, ownerID, fileName, contentType string, r io.Reader, size int64) (*storage.Attachment, error) {
	f.owner = ownerID
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.data = data
	return &storage.Attachment{
		URL:         "http://minio/attachments/" + fileName,
		FileName:    fileName,
		ContentType: contentType,
		Size:        size,
	}, nil
}

func multipartFile(t *testing.T, fileName, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func attachmentEngine(uploader AttachmentUploader) *gin.Engine {
	h := NewAttachmentHandler(uploader)
	r := gin.New()
	r.Use(asUser("42"))
	r.POST("/attachments", h.Upload)
	return r
}

func TestUploadAttachment(t *testing.T) {
	uploader := &fakeUploader{}
	body, contentType := multipartFile(t, "draft.pdf", "application/pdf", []byte("%PDF-1.7"))

	w := doRequest(t, attachmentEngine(uploader), http.MethodPost, "/attachments", body, contentType)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "42", uploader.owner)
	assert.Equal(t, []byte("%PDF-1.7"), uploader.data)
	assert.Equal(t, "draft.pdf", decodeBody(t, w)["fileName"])
}

func TestUploadAttachmentRejectsUnsupportedType(t *testing.T) {
	body, contentType := multipartFile(t, "run.sh", "application/x-sh", []byte("echo"))

	w := doRequest(t, attachmentEngine(&fakeUploader{}), http.MethodPost, "/attachments", body, contentType)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestUploadAttachmentDisabled(t *testing.T) {
	var uploader AttachmentUploader
	body, contentType := multipartFile(t, "draft.pdf", "application/pdf", []byte("%PDF"))

	w := doRequest(t, attachmentEngine(uploader), http.MethodPost, "/attachments", body, contentType)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthAndStats(t *testing.T) {
	hub := websocket.NewHub(auth.NewVerifier("test-secret"), websocket.DefaultOptions(), nil)
	h := NewWSHandler(hub)
	r := gin.New()
	r.GET("/healthz", h.Health)
	r.GET("/ws/stats", h.Stats)

	w := doRequest(t, r, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"status": "ok", "connections": float64(0), "uniqueUsers": float64(0)}, decodeBody(t, w))

	w = doRequest(t, r, http.MethodGet, "/ws/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	out := decodeBody(t, w)
	assert.Equal(t, float64(0), out["pendingConnections"])
	assert.Contains(t, out, "delivery")
}
