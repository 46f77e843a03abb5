package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/livenotify/internal/application"
	"vn.io.arda/livenotify/internal/auth"
	"vn.io.arda/livenotify/internal/domain"
	"vn.io.arda/livenotify/internal/realtime"
	transport "vn.io.arda/livenotify/internal/transport/http"
	"vn.io.arda/livenotify/internal/transport/ws"
)

// memRepo is an in-memory domain.Repository.
type memRepo struct {
	mu   sync.Mutex
	rows []*domain.Notification
}

func (r *memRepo) Create(_ context.Context, in domain.CreateNotificationInput) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := &domain.Notification{
		ID: uuid.New(), UserID: in.UserID, Title: in.Title, Message: in.Message,
		Type: in.Type, Related: in.Related, CreatedAt: time.Now().UTC(),
	}
	r.rows = append(r.rows, n)
	out := *n
	return &out, nil
}

func (r *memRepo) FindUndelivered(_ context.Context, userID string) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for _, n := range r.rows {
		if n.UserID == userID && !n.IsDelivered {
			out = append(out, *n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) MarkDelivered(_ context.Context, ids []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, id := range ids {
		for _, n := range r.rows {
			if n.ID == id && !n.IsDelivered {
				n.IsDelivered = true
				count++
			}
		}
	}
	return count, nil
}

func (r *memRepo) List(_ context.Context, f domain.NotificationFilter) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for i := len(r.rows) - 1; i >= 0; i-- {
		n := r.rows[i]
		if n.UserID == f.UserID && (f.Type == "" || n.Type == f.Type) {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (r *memRepo) CountUnread(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, n := range r.rows {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) MarkRead(_ context.Context, id uuid.UUID, userID string) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.rows {
		if n.ID == id && n.UserID == userID {
			n.IsRead = true
			out := *n
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) MarkAllRead(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, n := range r.rows {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

func (r *memRepo) Delete(_ context.Context, id uuid.UUID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.rows {
		if n.ID == id && n.UserID == userID {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memRepo) DeleteAllRead(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	var count int64
	for _, n := range r.rows {
		if n.UserID == userID && n.IsRead {
			count++
			continue
		}
		kept = append(kept, n)
	}
	r.rows = kept
	return count, nil
}

func (r *memRepo) PurgeOlderThan(context.Context, int) (int64, error) { return 0, nil }

func (r *memRepo) isDelivered(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.rows {
		if n.ID == id {
			return n.IsDelivered
		}
	}
	return false
}

type fixture struct {
	srv      *httptest.Server
	repo     *memRepo
	svc      *application.Service
	registry *realtime.Registry
	verifier *auth.JWTVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	verifier, err := auth.NewJWTVerifier("test-secret")
	require.NoError(t, err)

	repo := &memRepo{}
	registry := realtime.NewRegistry(time.Minute)
	dispatcher := realtime.NewDispatcher(registry,
		realtime.WithDelay(50*time.Millisecond),
		realtime.WithDeliveryMarker(repo, time.Second),
	)
	session := realtime.NewSession(verifier, registry, realtime.NewReplayer(repo, time.Second))
	svc := application.NewService(repo, dispatcher)

	h := transport.NewHandler(svc, session, registry, ws.NewUpgrader(nil), ws.Options{})
	srv := httptest.NewServer(transport.NewRouter(h, verifier, nil))
	t.Cleanup(func() {
		dispatcher.Stop()
		registry.CloseAll()
		srv.Close()
	})

	return &fixture{srv: srv, repo: repo, svc: svc, registry: registry, verifier: verifier}
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.verifier.Issue(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) dial(t *testing.T, token string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

type batch struct {
	Type string                `json:"type"`
	Data []domain.Notification `json:"data"`
}

func readBatch(t *testing.T, c *websocket.Conn) batch {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := c.ReadMessage()
	require.NoError(t, err)
	var b batch
	require.NoError(t, json.Unmarshal(msg, &b))
	return b
}

func notify(t *testing.T, svc *application.Service, userID, title string) *domain.Notification {
	t.Helper()
	n, err := svc.Notify(context.Background(), application.NotificationInput{
		UserID: userID, Title: title, Message: title + " body", Type: domain.TypeOrder,
	})
	require.NoError(t, err)
	require.NotNil(t, n)
	return n
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSocket_RejectsBadToken(t *testing.T) {
	f := newFixture(t)

	_, resp, err := f.dial(t, "garbage")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, f.registry.Count())
}

func TestSocket_ReplaysThenPushesLive(t *testing.T) {
	f := newFixture(t)

	// Persisted while offline: no connection at flush time, stays undelivered.
	n1 := notify(t, f.svc, "user-1", "N1")
	n2 := notify(t, f.svc, "user-1", "N2")
	time.Sleep(120 * time.Millisecond)
	require.False(t, f.repo.isDelivered(n1.ID))

	client, _, err := f.dial(t, f.token(t, "user-1"))
	require.NoError(t, err)
	defer client.Close()

	replayed := readBatch(t, client)
	assert.Equal(t, realtime.MessageBatch, replayed.Type)
	require.Len(t, replayed.Data, 2)
	assert.Equal(t, n1.ID, replayed.Data[0].ID)
	assert.Equal(t, n2.ID, replayed.Data[1].ID)
	assert.Eventually(t, func() bool { return f.repo.isDelivered(n2.ID) }, time.Second, 10*time.Millisecond)

	n3 := notify(t, f.svc, "user-1", "N3")
	live := readBatch(t, client)
	require.Len(t, live.Data, 1)
	assert.Equal(t, n3.ID, live.Data[0].ID)
	assert.Eventually(t, func() bool { return f.repo.isDelivered(n3.ID) }, time.Second, 10*time.Millisecond)
}

func TestSocket_SecondConnectionEvictsFirst(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "user-1")

	first, _, err := f.dial(t, tok)
	require.NoError(t, err)
	defer first.Close()
	second, _, err := f.dial(t, tok)
	require.NoError(t, err)
	defer second.Close()

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = first.ReadMessage()
	assert.Error(t, err, "evicted connection should be closed")

	notify(t, f.svc, "user-1", "after eviction")
	got := readBatch(t, second)
	assert.Len(t, got.Data, 1)
	assert.Equal(t, 1, f.registry.Count())
}

func TestStream_ReplaysOverSSE(t *testing.T) {
	f := newFixture(t)
	n := notify(t, f.svc, "user-2", "queued")
	time.Sleep(120 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/notifications/stream?token="+f.token(t, "user-2"), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	scanner := bufio.NewScanner(resp.Body)
	var payload string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, realtime.MessageBatch) {
			payload = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, payload)

	var b batch
	require.NoError(t, json.Unmarshal([]byte(payload), &b))
	require.Len(t, b.Data, 1)
	assert.Equal(t, n.ID, b.Data[0].ID)
}

func TestStream_RejectsBadToken(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/notifications/stream?token=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestREST(t *testing.T) {
	f := newFixture(t)
	n := notify(t, f.svc, "user-3", "hello")
	notify(t, f.svc, "user-other", "not yours")
	bearer := "Bearer " + f.token(t, "user-3")

	do := func(method, path string) *http.Response {
		req, err := http.NewRequest(method, f.srv.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", bearer)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	t.Run("requires auth", func(t *testing.T) {
		resp, err := http.Get(f.srv.URL + "/notifications")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("list", func(t *testing.T) {
		resp := do(http.MethodGet, "/notifications?page=1&limit=10")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Data []domain.Notification `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Data, 1)
		assert.Equal(t, n.ID, body.Data[0].ID)
	})

	t.Run("list reports the paging it served", func(t *testing.T) {
		resp := do(http.MethodGet, "/notifications?page=0&limit=500")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Page  int `json:"page"`
			Limit int `json:"limit"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 1, body.Page)
		assert.Equal(t, application.DefaultPageSize, body.Limit)
	})

	t.Run("list rejects unknown type", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/notifications?type=bogus").StatusCode)
	})

	t.Run("unread count then mark read", func(t *testing.T) {
		var count struct {
			Count int64 `json:"count"`
		}
		require.NoError(t, json.NewDecoder(do(http.MethodGet, "/notifications/unread-count").Body).Decode(&count))
		assert.Equal(t, int64(1), count.Count)

		assert.Equal(t, http.StatusOK, do(http.MethodPatch, fmt.Sprintf("/notifications/%s/read", n.ID)).StatusCode)

		require.NoError(t, json.NewDecoder(do(http.MethodGet, "/notifications/unread-count").Body).Decode(&count))
		assert.Equal(t, int64(0), count.Count)
	})

	t.Run("bad and unknown ids", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(http.MethodPatch, "/notifications/not-a-uuid/read").StatusCode)
		assert.Equal(t, http.StatusNotFound, do(http.MethodDelete, "/notifications/"+uuid.NewString()).StatusCode)
	})

	t.Run("delete all read", func(t *testing.T) {
		resp := do(http.MethodDelete, "/notifications/read/all")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Deleted int64 `json:"deleted"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, int64(1), body.Deleted)
	})
}
