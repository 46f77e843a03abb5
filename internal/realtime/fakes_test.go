package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"vn.io.arda/livenotify/internal/domain"
	"vn.io.arda/livenotify/internal/realtime"
)

// fakeTransport records frames and answers probes when responsive is set.
type fakeTransport struct {
	mu         sync.Mutex
	frames     [][]byte
	closed     bool
	sendErr    error
	writeErr   error
	responsive bool
	awaiting   bool
	probes     int
}

func newFakeTransport() *fakeTransport { return &fakeTransport{responsive: true} }

func (f *fakeTransport) Send(msg []byte, done func(error)) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return realtime.ErrTransportClosed
	}
	if f.sendErr != nil {
		f.mu.Unlock()
		return f.sendErr
	}
	writeErr := f.writeErr
	if writeErr == nil {
		f.frames = append(f.frames, msg)
	}
	f.mu.Unlock()

	if done != nil {
		done(writeErr)
	}
	return nil
}

func (f *fakeTransport) Probe() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.probes++
	if f.closed {
		return realtime.ErrTransportClosed
	}
	if f.responsive {
		return nil
	}
	if f.awaiting {
		return realtime.ErrNoPong
	}
	f.awaiting = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeTransport) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

// blockingTransport holds every Send until release is called.
type blockingTransport struct {
	fakeTransport
	unblock  chan struct{}
	once     sync.Once
	entered  chan struct{}
	enterOne sync.Once
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{
		fakeTransport: fakeTransport{responsive: true},
		unblock:       make(chan struct{}),
		entered:       make(chan struct{}),
	}
}

func (b *blockingTransport) Send(msg []byte, done func(error)) error {
	b.enterOne.Do(func() { close(b.entered) })
	<-b.unblock
	return b.fakeTransport.Send(msg, done)
}

func (b *blockingTransport) inSend() bool {
	select {
	case <-b.entered:
		return true
	default:
		return false
	}
}

func (b *blockingTransport) release() { b.once.Do(func() { close(b.unblock) }) }

func (b *blockingTransport) titles(t *testing.T) []string {
	var out []string
	for _, fr := range b.batches(t) {
		out = append(out, titles(fr.Data)...)
	}
	return out
}

type decodedFrame struct {
	Type string                `json:"type"`
	Data []domain.Notification `json:"data"`
}

// batches decodes every notification_batch frame.
func (f *fakeTransport) batches(t *testing.T) []decodedFrame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]decodedFrame, 0, len(f.frames))
	for _, raw := range f.frames {
		var fr decodedFrame
		require.NoError(t, json.Unmarshal(raw, &fr))
		out = append(out, fr)
	}
	return out
}

func titles(ns []domain.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Title
	}
	return out
}

func newNotification(userID, title string, createdAt time.Time) domain.Notification {
	return domain.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		Message:   title + " message",
		Type:      domain.TypeOrder,
		Related:   domain.OrderRef("order-1"),
		CreatedAt: createdAt,
	}
}

// memStore is an in-memory UndeliveredStore.
type memStore struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*domain.Notification
	findErr  error
	markErr  error
	markCall int
}

func newMemStore(ns ...domain.Notification) *memStore {
	s := &memStore{rows: make(map[uuid.UUID]*domain.Notification)}
	for i := range ns {
		n := ns[i]
		s.rows[n.ID] = &n
	}
	return s
}

func (s *memStore) FindUndelivered(_ context.Context, userID string) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []domain.Notification
	for _, n := range s.rows {
		if n.UserID == userID && !n.IsDelivered {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) MarkDelivered(_ context.Context, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markCall++
	if s.markErr != nil {
		return 0, s.markErr
	}
	var n int64
	for _, id := range ids {
		if row, ok := s.rows[id]; ok && !row.IsDelivered {
			row.IsDelivered = true
			n++
		}
	}
	return n, nil
}

func (s *memStore) delivered(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].IsDelivered
}

func (s *memStore) markCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markCall
}

// recordingMarker captures MarkDelivered calls from the dispatcher.
type recordingMarker struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (m *recordingMarker) MarkDelivered(_ context.Context, ids []uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, ids...)
	return int64(len(ids)), nil
}

func (m *recordingMarker) marked() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.ids...)
}

// staticVerifier maps tokens to user ids.
type staticVerifier map[string]string

func (v staticVerifier) Verify(token string) (string, error) {
	userID, ok := v[token]
	if !ok {
		return "", errors.New("token is expired")
	}
	return userID, nil
}
