package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"forum/config"
	"forum/internal/infra/cache"
	"forum/internal/models"
	"forum/internal/store/badgerstore"
	"forum/internal/svc"
	"forum/internal/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type harness struct {
	t      *testing.T
	cfg    *config.Config
	router *gin.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	mr := miniredis.RunT(t)
	rdb := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	cfg := &config.Config{
		JWTSecretKey:        "secret",
		JWTIssuer:           "forum",
		ReactionMaxAttempts: 5,
		CommentMaxAttempts:  5,
		CascadeBatchSize:    10,
		ResubscribeInitial:  time.Millisecond,
		ResubscribeMax:      10 * time.Millisecond,
		FaultThreshold:      3,
		TopicCacheTTL:       time.Minute,
	}
	sc := svc.Assemble(cfg, st, rdb, nil)
	t.Cleanup(sc.Close)
	return &harness{t: t, cfg: cfg, router: NewRouter(sc)}
}

func (h *harness) token(user, role string) string {
	tok, err := utils.GenerateToken(h.cfg, user, role, time.Hour)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path, tok string, body any) (int, envelope) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

type forestNode struct {
	ID       string       `json:"id"`
	Body     string       `json:"body"`
	Children []forestNode `json:"children"`
}

type threadBody struct {
	State      string       `json:"state"`
	ReplyCount int          `json:"reply_count"`
	Forest     []forestNode `json:"forest"`
}

func (h *harness) createTopic(tok string) models.Topic {
	h.t.Helper()
	code, env := h.do(http.MethodPost, "/topics", tok, map[string]string{
		"title": "Exam dates", "body": "when?", "category": "students",
	})
	require.Equal(h.t, http.StatusCreated, code, env.Message)
	return decode[models.Topic](h.t, env.Data)
}

func (h *harness) comment(tok, topicID, parentID, body string) string {
	h.t.Helper()
	code, env := h.do(http.MethodPost, "/topics/"+topicID+"/comments", tok, map[string]string{
		"parent_id": parentID, "body": body,
	})
	require.Equal(h.t, http.StatusCreated, code, env.Message)
	return decode[map[string]string](h.t, env.Data)["id"]
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestThreadLifecycle(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.token("alice", ""), h.token("bob", "")

	topic := h.createTopic(alice)
	c1 := h.comment(alice, topic.ID, "", "C1")
	h.comment(bob, topic.ID, c1, "C2")
	h.comment(bob, topic.ID, "", "C3")

	code, env := h.do(http.MethodGet, "/topics/"+topic.ID+"/thread", "", nil)
	require.Equal(t, http.StatusOK, code)
	th := decode[threadBody](t, env.Data)
	assert.Equal(t, "live", th.State)
	assert.Equal(t, 3, th.ReplyCount)
	require.Len(t, th.Forest, 2)
	assert.Equal(t, "C1", th.Forest[0].Body)
	require.Len(t, th.Forest[0].Children, 1)
	assert.Equal(t, "C2", th.Forest[0].Children[0].Body)

	code, _ = h.do(http.MethodDelete, "/topics/"+topic.ID+"/comments/"+c1, bob, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = h.do(http.MethodDelete, "/topics/"+topic.ID+"/comments/"+c1, alice, nil)
	require.Equal(t, http.StatusOK, code)

	code, env = h.do(http.MethodGet, "/topics/"+topic.ID, "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, decode[models.Topic](t, env.Data).ReplyCount)

	_, env = h.do(http.MethodGet, "/topics/"+topic.ID+"/thread", "", nil)
	th = decode[threadBody](t, env.Data)
	require.Len(t, th.Forest, 2)
	assert.Equal(t, "C2", th.Forest[0].Body)
	assert.Equal(t, "C3", th.Forest[1].Body)
}

func TestReactions(t *testing.T) {
	h := newHarness(t)
	alice := h.token("alice", "")
	topic := h.createTopic(alice)
	c1 := h.comment(alice, topic.ID, "", "hello")

	code, _ := h.do(http.MethodPost, "/topics/"+topic.ID+"/reactions", "", map[string]string{"kind": "like"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = h.do(http.MethodPost, "/topics/"+topic.ID+"/reactions", alice, map[string]string{"kind": "love"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, env := h.do(http.MethodPost, "/topics/"+topic.ID+"/reactions", alice, map[string]string{"kind": "like"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, decode[map[string]any](t, env.Data)["active"])

	code, env = h.do(http.MethodPost, "/topics/"+topic.ID+"/comments/"+c1+"/reactions", alice, map[string]string{"kind": "thank"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, decode[map[string]any](t, env.Data)["active"])

	_, env = h.do(http.MethodGet, "/topics/"+topic.ID, "", nil)
	got := decode[models.Topic](t, env.Data)
	assert.Equal(t, []string{"alice"}, got.Reactions.Likes)
	assert.Equal(t, 1, got.ReplyCount)

	code, _ = h.do(http.MethodPost, "/topics/"+topic.ID+"/comments/missing/reactions", alice, map[string]string{"kind": "thank"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTopicRoutes(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.token("alice", ""), h.token("bob", "")
	mod := h.token("mod", "moderator")
	topic := h.createTopic(alice)

	code, _ := h.do(http.MethodPost, "/topics", "", map[string]string{"title": "x", "category": "general"})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = h.do(http.MethodPost, "/topics", alice, map[string]string{"title": "x", "category": "gossip"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := h.do(http.MethodGet, "/topics?category=students", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]models.Topic](t, env.Data), 1)

	code, env = h.do(http.MethodGet, "/topics?author=me", bob, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[[]models.Topic](t, env.Data))
	code, _ = h.do(http.MethodGet, "/topics?author=me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = h.do(http.MethodPut, "/topics/"+topic.ID, bob, map[string]string{"title": "hijack"})
	assert.Equal(t, http.StatusForbidden, code)
	code, env = h.do(http.MethodPut, "/topics/"+topic.ID, mod, map[string]string{"category": "general"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.CategoryGeneral, decode[models.Topic](t, env.Data).Category)

	code, _ = h.do(http.MethodPost, "/topics/"+topic.ID+"/recount", alice, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, env = h.do(http.MethodPost, "/topics/"+topic.ID+"/recount", mod, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, decode[map[string]any](t, env.Data)["reply_count"])

	h.comment(bob, topic.ID, "", "bye")
	code, env = h.do(http.MethodDelete, "/topics/"+topic.ID, alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, decode[map[string]any](t, env.Data)["deleted_comments"])

	code, _ = h.do(http.MethodGet, "/topics/"+topic.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(http.MethodGet, "/topics/"+topic.ID+"/thread", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStreamThread(t *testing.T) {
	h := newHarness(t)
	alice := h.token("alice", "")
	topic := h.createTopic(alice)

	srv := httptest.NewServer(h.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/topics/" + topic.ID + "/thread/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	read := func(pred func(threadBody) bool) threadBody {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		for {
			var p threadBody
			require.NoError(t, ws.ReadJSON(&p))
			if pred(p) {
				return p
			}
		}
	}
	read(func(p threadBody) bool { return p.State == "live" })

	h.comment(alice, topic.ID, "", "first")
	p := read(func(p threadBody) bool { return p.ReplyCount == 1 })
	assert.Equal(t, "first", p.Forest[0].Body)
}

func TestStreamThreadUnknownTopic(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(http.MethodGet, "/topics/missing/thread/ws", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
