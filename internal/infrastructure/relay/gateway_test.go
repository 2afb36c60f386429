package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mirrorctl/internal/core/domain"
	"mirrorctl/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubService records forwarded control messages for a fixed session set.
type stubService struct {
	mu       sync.Mutex
	sessions map[domain.DeviceID]*domain.Session
	written  map[domain.DeviceID][][]byte
}

func newStubService(devices ...domain.DeviceID) *stubService {
	s := &stubService{
		sessions: make(map[domain.DeviceID]*domain.Session),
		written:  make(map[domain.DeviceID][][]byte),
	}
	for _, dev := range devices {
		s.sessions[dev] = &domain.Session{
			ID:       domain.NewSessionID(dev, time.Now()),
			DeviceID: dev,
			VideoURL: "ws://relay.local:9000/mirror/" + string(dev) + "/video",
			Config:   domain.DefaultSessionConfig(),
		}
	}
	return s
}

func (s *stubService) StartSession(ctx context.Context, deviceID domain.DeviceID, deviceAddress string, override *domain.ConfigOverride) (*domain.Session, error) {
	return nil, nil
}

func (s *stubService) StopSession(ctx context.Context, deviceID domain.DeviceID) error { return nil }

func (s *stubService) GetSession(ctx context.Context, deviceID domain.DeviceID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, exists := s.sessions[deviceID]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *stubService) HasSession(ctx context.Context, deviceID domain.DeviceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.sessions[deviceID]
	return exists
}

func (s *stubService) ListSessions(ctx context.Context) []*domain.Session { return nil }

func (s *stubService) TouchLastActive(ctx context.Context, deviceID domain.DeviceID) {}

func (s *stubService) WriteControl(ctx context.Context, deviceID domain.DeviceID, msgs ...[]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[deviceID]; !exists {
		return domain.ErrProcessNotAvailable
	}
	for _, msg := range msgs {
		cp := make([]byte, len(msg))
		copy(cp, msg)
		s.written[deviceID] = append(s.written[deviceID], cp)
	}
	return nil
}

func (s *stubService) Shutdown(ctx context.Context) {}

func (s *stubService) writtenFor(deviceID domain.DeviceID) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.written[deviceID]...)
}

func newTestGateway(t *testing.T, service *stubService) (*Gateway, *websocket.Conn) {
	t.Helper()

	g := NewGateway(service, GatewayOptions{}, nil, zap.NewNop().Sugar())
	server := httptest.NewServer(http.HandlerFunc(g.HandleWebSocket))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return g, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Event{Type: eventType, Payload: raw}))
}

func waitSubscribers(t *testing.T, g *Gateway, deviceID domain.DeviceID, want int) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return g.GetSubscriberCount(deviceID) == want
	}, time.Second, 5*time.Millisecond)
}

func TestJoinSession_ReturnsSessionInfo(t *testing.T) {
	service := newStubService("dev-1")
	g, conn := newTestGateway(t, service)

	sendEvent(t, conn, "join_session", joinPayload{DeviceID: "dev-1"})

	ev := readEvent(t, conn)
	require.Equal(t, "session_info", ev.Type)

	var info sessionInfoPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &info))
	assert.Equal(t, domain.DeviceID("dev-1"), info.DeviceID)
	assert.Equal(t, "ws://relay.local:9000/mirror/dev-1/video", info.VideoURL)

	waitSubscribers(t, g, "dev-1", 1)
}

func TestJoinSession_UnknownDeviceIsError(t *testing.T) {
	service := newStubService("dev-1")
	g, conn := newTestGateway(t, service)

	sendEvent(t, conn, "join_session", joinPayload{DeviceID: "dev-unknown"})

	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev.Type)
	assert.Zero(t, g.GetSubscriberCount("dev-unknown"))
}

func TestJoinSession_ReplacesPriorSubscription(t *testing.T) {
	service := newStubService("dev-a", "dev-b")
	g, conn := newTestGateway(t, service)

	sendEvent(t, conn, "join_session", joinPayload{DeviceID: "dev-a"})
	require.Equal(t, "session_info", readEvent(t, conn).Type)
	waitSubscribers(t, g, "dev-a", 1)

	sendEvent(t, conn, "join_session", joinPayload{DeviceID: "dev-b"})
	require.Equal(t, "session_info", readEvent(t, conn).Type)
	waitSubscribers(t, g, "dev-b", 1)
	waitSubscribers(t, g, "dev-a", 0)
}

func TestLeaveSession(t *testing.T) {
	service := newStubService("dev-1")
	g, conn := newTestGateway(t, service)

	sendEvent(t, conn, "join_session", joinPayload{DeviceID: "dev-1"})
	require.Equal(t, "session_info", readEvent(t, conn).Type)
	waitSubscribers(t, g, "dev-1", 1)

	sendEvent(t, conn, "leave_session", joinPayload{DeviceID: "dev-1"})
	waitSubscribers(t, g, "dev-1", 0)
}

func TestTouchEvent_ForwardsEncodedMessage(t *testing.T) {
	service := newStubService("dev-1")
	g, conn := newTestGateway(t, service)

	sendEvent(t, conn, "join_session", joinPayload{DeviceID: "dev-1"})
	require.Equal(t, "session_info", readEvent(t, conn).Type)
	waitSubscribers(t, g, "dev-1", 1)

	sendEvent(t, conn, "touch_event", touchPayload{Type: "down", X: 100, Y: 200})

	assert.Eventually(t, func() bool {
		return len(service.writtenFor("dev-1")) == 1
	}, time.Second, 5*time.Millisecond)

	msgs := service.writtenFor("dev-1")
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0], 29)
	assert.Equal(t, protocol.TypeInjectTouch, msgs[0][0])
	assert.Equal(t, protocol.ActionDown, msgs[0][1])
}

func TestTouchEvent_WithoutSubscriptionIsError(t *testing.T) {
	service := newStubService("dev-1")
	_, conn := newTestGateway(t, service)

	sendEvent(t, conn, "touch_event", touchPayload{Type: "down", X: 1, Y: 1})

	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev.Type)
	assert.Empty(t, service.writtenFor("dev-1"))
}

func TestKeyEvent_BackSendsDownUpPair(t *testing.T) {
	service := newStubService("dev-1")
	g, conn := newTestGateway(t, service)

	sendEvent(t, conn, "join_session", joinPayload{DeviceID: "dev-1"})
	require.Equal(t, "session_info", readEvent(t, conn).Type)
	waitSubscribers(t, g, "dev-1", 1)

	sendEvent(t, conn, "key_event", keyPayload{Type: "back"})

	assert.Eventually(t, func() bool {
		return len(service.writtenFor("dev-1")) == 2
	}, time.Second, 5*time.Millisecond)

	msgs := service.writtenFor("dev-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.ActionDown, msgs[0][1])
	assert.Equal(t, protocol.ActionUp, msgs[1][1])
}

func TestUnknownEventType_IsError(t *testing.T) {
	service := newStubService("dev-1")
	_, conn := newTestGateway(t, service)

	sendEvent(t, conn, "bogus_event", map[string]string{})

	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev.Type)
}

func TestBroadcastVideoFrame_ReachesSubscriber(t *testing.T) {
	service := newStubService("dev-1")
	g, conn := newTestGateway(t, service)

	sendEvent(t, conn, "join_session", joinPayload{DeviceID: "dev-1"})
	require.Equal(t, "session_info", readEvent(t, conn).Type)
	waitSubscribers(t, g, "dev-1", 1)

	frame := []byte{0xde, 0xad, 0xbe, 0xef}
	g.BroadcastVideoFrame("dev-1", frame)

	ev := readEvent(t, conn)
	require.Equal(t, "video_frame", ev.Type)

	var p framePayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.Equal(t, domain.DeviceID("dev-1"), p.DeviceID)
	assert.Equal(t, frame, p.Data)
}

func TestBroadcast_NoSubscribersIsNoop(t *testing.T) {
	service := newStubService("dev-1")
	g, _ := newTestGateway(t, service)

	// Must not panic or block without subscribers.
	g.BroadcastVideoFrame("dev-1", []byte{1, 2, 3})
	g.BroadcastAudioFrame("dev-1", []byte{4, 5, 6})
}
