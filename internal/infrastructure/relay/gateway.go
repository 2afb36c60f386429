package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"mirrorctl/internal/core/domain"
	"mirrorctl/internal/core/ports"
	"mirrorctl/internal/infrastructure/monitoring"
	"mirrorctl/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Gateway terminates browser connections, forwards their input events to the
// device process and fans media frames out to subscribers. A connection is
// subscribed to at most one device at a time.
type Gateway struct {
	service ports.SessionService

	clients     map[domain.ConnID]*client
	subscribers map[domain.DeviceID]map[domain.ConnID]struct{}
	mu          sync.RWMutex

	pumps   map[domain.DeviceID][]*pump
	pumpsMu sync.Mutex

	aspectRatio  float64
	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	msgRate      rate.Limit
	msgBurst     int

	collector *monitoring.Collector
	logger    *zap.SugaredLogger
}

type client struct {
	id      domain.ConnID
	conn    *websocket.Conn
	limiter *rate.Limiter

	// device is the single optional subscription; empty means none.
	device domain.DeviceID

	writeMu sync.Mutex
}

// GatewayOptions tunes connection handling and the frame-geometry
// derivation.
type GatewayOptions struct {
	// AspectRatio derives the source frame height from the configured max
	// dimension; the live video geometry is not negotiated back, so this
	// stays an explicit approximation (default 16:9).
	AspectRatio  float64
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MessagesPerSecond and MessageBurst bound the inbound event rate per
	// connection; zero disables limiting.
	MessagesPerSecond float64
	MessageBurst      int
}

func NewGateway(service ports.SessionService, opts GatewayOptions, collector *monitoring.Collector, logger *zap.SugaredLogger) *Gateway {
	if opts.AspectRatio <= 0 {
		opts.AspectRatio = 16.0 / 9.0
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	return &Gateway{
		service:      service,
		clients:      make(map[domain.ConnID]*client),
		subscribers:  make(map[domain.DeviceID]map[domain.ConnID]struct{}),
		pumps:        make(map[domain.DeviceID][]*pump),
		aspectRatio:  opts.AspectRatio,
		pingInterval: opts.PingInterval,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		msgRate:      rate.Limit(opts.MessagesPerSecond),
		msgBurst:     opts.MessageBurst,
		collector:    collector,
		logger:       logger,
	}
}

// Event is the JSON envelope exchanged over the websocket.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type joinPayload struct {
	DeviceID domain.DeviceID `json:"device_id"`
}

type touchPayload struct {
	Type      string  `json:"type"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Pressure  float64 `json:"pressure,omitempty"`
	PointerID int64   `json:"pointer_id,omitempty"`
}

type keyPayload struct {
	Type      string `json:"type"`
	KeyCode   int32  `json:"key_code"`
	MetaState uint32 `json:"meta_state,omitempty"`
}

type scrollPayload struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	HScroll float64 `json:"h_scroll"`
	VScroll float64 `json:"v_scroll"`
}

type textPayload struct {
	Text string `json:"text"`
}

type clipboardPayload struct {
	Text  string `json:"text"`
	Paste bool   `json:"paste,omitempty"`
}

type sessionInfoPayload struct {
	DeviceID   domain.DeviceID      `json:"device_id"`
	SessionID  domain.SessionID     `json:"session_id"`
	VideoURL   string               `json:"video_url"`
	AudioURL   string               `json:"audio_url"`
	ControlURL string               `json:"control_url"`
	Config     domain.SessionConfig `json:"config"`
}

type framePayload struct {
	DeviceID domain.DeviceID `json:"device_id"`
	Data     []byte          `json:"data"`
}

func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &client{
		id:   domain.ConnID(uuid.NewString()),
		conn: conn,
	}
	if g.msgRate > 0 {
		c.limiter = rate.NewLimiter(g.msgRate, g.msgBurst)
	}

	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()

	g.logger.Infow("client connected", "conn_id", c.id)

	conn.SetReadDeadline(time.Now().Add(g.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(g.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(g.pingInterval)
	defer pingTicker.Stop()

	eventChan := make(chan Event, 16)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(g.readTimeout))
			eventChan <- ev
		}
	}()

	for {
		select {
		case ev := <-eventChan:
			if c.limiter != nil && !c.limiter.Allow() {
				g.sendError(c, "event rate limit exceeded")
				continue
			}
			if err := g.handleEvent(c, ev); err != nil {
				g.logger.Infow("event failed", "conn_id", c.id, "type", ev.Type, "error", err)
				g.sendError(c, err.Error())
			}

		case <-pingTicker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				g.logger.Infow("ping failed", "conn_id", c.id, "error", err)
				g.disconnect(c)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Infow("read failed", "conn_id", c.id, "error", err)
			}
			g.disconnect(c)
			return
		}
	}
}

func (g *Gateway) handleEvent(c *client, ev Event) error {
	switch ev.Type {
	case "join_session":
		return g.handleJoin(c, ev.Payload)
	case "leave_session":
		return g.handleLeave(c, ev.Payload)
	case "touch_event":
		return g.handleTouch(c, ev.Payload)
	case "key_event":
		return g.handleKey(c, ev.Payload)
	case "scroll_event":
		return g.handleScroll(c, ev.Payload)
	case "text_event":
		return g.handleText(c, ev.Payload)
	case "clipboard_event":
		return g.handleClipboard(c, ev.Payload)
	default:
		return fmt.Errorf("unknown event type: %s", ev.Type)
	}
}

func (g *Gateway) handleJoin(c *client, payload json.RawMessage) error {
	var p joinPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid join_session payload: %w", err)
	}

	ctx := context.Background()
	session, err := g.service.GetSession(ctx, p.DeviceID)
	if err != nil {
		return fmt.Errorf("no session found for device %s", p.DeviceID)
	}

	g.subscribe(c, p.DeviceID)
	g.service.TouchLastActive(ctx, p.DeviceID)

	g.logger.Infow("client joined session", "conn_id", c.id, "device_id", p.DeviceID)

	return g.send(c, "session_info", sessionInfoPayload{
		DeviceID:   session.DeviceID,
		SessionID:  session.ID,
		VideoURL:   session.VideoURL,
		AudioURL:   session.AudioURL,
		ControlURL: session.ControlURL,
		Config:     session.Config,
	})
}

func (g *Gateway) handleLeave(c *client, payload json.RawMessage) error {
	var p joinPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid leave_session payload: %w", err)
	}

	g.unsubscribe(c, p.DeviceID)
	g.logger.Infow("client left session", "conn_id", c.id, "device_id", p.DeviceID)
	return nil
}

func (g *Gateway) handleTouch(c *client, payload json.RawMessage) error {
	var p touchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid touch_event payload: %w", err)
	}

	deviceID, session, err := g.subscribedSession(c)
	if err != nil {
		return err
	}

	var action byte
	switch p.Type {
	case "down":
		action = protocol.ActionDown
	case "up":
		action = protocol.ActionUp
	case "move":
		action = protocol.ActionMove
	case "cancel":
		action = protocol.ActionCancel
	default:
		return fmt.Errorf("unknown touch type: %s", p.Type)
	}

	width, height := g.sourceDimensions(session.Config)
	pressure := p.Pressure
	if pressure <= 0 {
		pressure = 1.0
	}

	msg := protocol.EncodeTouch(protocol.TouchEvent{
		Action:    action,
		PointerID: p.PointerID,
		X:         int64(math.Round(p.X)),
		Y:         int64(math.Round(p.Y)),
		Width:     width,
		Height:    height,
		Pressure:  pressure,
	})

	return g.writeControl(c, deviceID, "touch", msg)
}

func (g *Gateway) handleKey(c *client, payload json.RawMessage) error {
	var p keyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid key_event payload: %w", err)
	}

	deviceID, _, err := g.subscribedSession(c)
	if err != nil {
		return err
	}

	switch p.Type {
	case "back":
		return g.writeControl(c, deviceID, "key", protocol.EncodeBackButton()...)
	case "home":
		return g.writeControl(c, deviceID, "key", protocol.EncodeHomeButton()...)
	case "app_switch":
		return g.writeControl(c, deviceID, "key", protocol.EncodeAppSwitchButton()...)
	}

	var action byte
	switch p.Type {
	case "down":
		action = protocol.ActionDown
	case "up":
		action = protocol.ActionUp
	default:
		return fmt.Errorf("unknown key type: %s", p.Type)
	}

	msg := protocol.EncodeKeycode(protocol.KeyEvent{
		Action:    action,
		Keycode:   p.KeyCode,
		MetaState: p.MetaState,
	})
	return g.writeControl(c, deviceID, "key", msg)
}

func (g *Gateway) handleScroll(c *client, payload json.RawMessage) error {
	var p scrollPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid scroll_event payload: %w", err)
	}

	deviceID, session, err := g.subscribedSession(c)
	if err != nil {
		return err
	}

	width, height := g.sourceDimensions(session.Config)
	msg := protocol.EncodeScroll(protocol.ScrollEvent{
		X:       int64(math.Round(p.X)),
		Y:       int64(math.Round(p.Y)),
		Width:   width,
		Height:  height,
		HScroll: int64(math.Round(p.HScroll)),
		VScroll: int64(math.Round(p.VScroll)),
	})
	return g.writeControl(c, deviceID, "scroll", msg)
}

func (g *Gateway) handleText(c *client, payload json.RawMessage) error {
	var p textPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid text_event payload: %w", err)
	}

	deviceID, _, err := g.subscribedSession(c)
	if err != nil {
		return err
	}

	return g.writeControl(c, deviceID, "text", protocol.EncodeText(p.Text))
}

func (g *Gateway) handleClipboard(c *client, payload json.RawMessage) error {
	var p clipboardPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid clipboard_event payload: %w", err)
	}

	deviceID, _, err := g.subscribedSession(c)
	if err != nil {
		return err
	}

	msg := protocol.EncodeSetClipboard(uint64(time.Now().UnixNano()), p.Paste, p.Text)
	return g.writeControl(c, deviceID, "clipboard", msg)
}

// writeControl forwards encoded messages to the device process and bumps
// the session's last-active timestamp.
func (g *Gateway) writeControl(c *client, deviceID domain.DeviceID, kind string, msgs ...[]byte) error {
	ctx := context.Background()
	g.service.TouchLastActive(ctx, deviceID)

	if err := g.service.WriteControl(ctx, deviceID, msgs...); err != nil {
		return fmt.Errorf("failed to forward %s event: %w", kind, err)
	}
	if g.collector != nil {
		g.collector.ControlMessages(kind, len(msgs))
	}
	return nil
}

// BroadcastVideoFrame pushes a video chunk to every subscriber of the
// device. Frames with no subscribers are dropped, not queued.
func (g *Gateway) BroadcastVideoFrame(deviceID domain.DeviceID, data []byte) {
	g.broadcast(deviceID, "video_frame", data)
}

// BroadcastAudioFrame pushes an audio chunk to every subscriber of the
// device.
func (g *Gateway) BroadcastAudioFrame(deviceID domain.DeviceID, data []byte) {
	g.broadcast(deviceID, "audio_frame", data)
}

func (g *Gateway) broadcast(deviceID domain.DeviceID, eventType string, data []byte) {
	g.mu.RLock()
	targets := make([]*client, 0, len(g.subscribers[deviceID]))
	for connID := range g.subscribers[deviceID] {
		if c, ok := g.clients[connID]; ok {
			targets = append(targets, c)
		}
	}
	g.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	payload := framePayload{DeviceID: deviceID, Data: data}
	for _, c := range targets {
		if err := g.send(c, eventType, payload); err != nil {
			g.logger.Debugw("frame push failed", "conn_id", c.id, "device_id", deviceID, "error", err)
		}
	}

	if g.collector != nil {
		g.collector.FramesBroadcast(eventType, len(targets))
	}
}

func (g *Gateway) GetSubscriberCount(deviceID domain.DeviceID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.subscribers[deviceID])
}

func (g *Gateway) ListActiveSessions() []domain.SessionStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := make([]domain.SessionStats, 0, len(g.subscribers))
	for deviceID, conns := range g.subscribers {
		stats = append(stats, domain.SessionStats{DeviceID: deviceID, Subscribers: len(conns)})
	}
	return stats
}

// subscribe registers the connection for the device, replacing any prior
// subscription so a connection is never in two subscriber sets.
func (g *Gateway) subscribe(c *client, deviceID domain.DeviceID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c.device != "" {
		g.removeSubscriberLocked(c, c.device)
	}

	c.device = deviceID
	set, exists := g.subscribers[deviceID]
	if !exists {
		set = make(map[domain.ConnID]struct{})
		g.subscribers[deviceID] = set
	}
	set[c.id] = struct{}{}
	g.updateSubscriberGaugeLocked(deviceID)
}

func (g *Gateway) unsubscribe(c *client, deviceID domain.DeviceID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeSubscriberLocked(c, deviceID)
}

func (g *Gateway) removeSubscriberLocked(c *client, deviceID domain.DeviceID) {
	if c.device == deviceID {
		c.device = ""
	}
	if set, exists := g.subscribers[deviceID]; exists {
		delete(set, c.id)
		if len(set) == 0 {
			delete(g.subscribers, deviceID)
		}
	}
	g.updateSubscriberGaugeLocked(deviceID)
}

func (g *Gateway) updateSubscriberGaugeLocked(deviceID domain.DeviceID) {
	if g.collector != nil {
		g.collector.SetSubscribers(string(deviceID), len(g.subscribers[deviceID]))
	}
}

func (g *Gateway) disconnect(c *client) {
	g.mu.Lock()
	if c.device != "" {
		g.removeSubscriberLocked(c, c.device)
	}
	delete(g.clients, c.id)
	g.mu.Unlock()

	g.logger.Infow("client disconnected", "conn_id", c.id)
}

func (g *Gateway) subscribedSession(c *client) (domain.DeviceID, *domain.Session, error) {
	g.mu.RLock()
	deviceID := c.device
	g.mu.RUnlock()

	if deviceID == "" {
		return "", nil, domain.ErrNotSubscribed
	}

	session, err := g.service.GetSession(context.Background(), deviceID)
	if err != nil {
		return "", nil, fmt.Errorf("session not found for device %s", deviceID)
	}
	return deviceID, session, nil
}

// sourceDimensions derives the frame geometry the device process expects in
// touch and scroll messages from the configured max dimension.
func (g *Gateway) sourceDimensions(cfg domain.SessionConfig) (int, int) {
	width := cfg.MaxSize
	if width <= 0 {
		width = domain.DefaultSessionConfig().MaxSize
	}
	height := int(math.Round(float64(width) / g.aspectRatio))
	return width, height
}

func (g *Gateway) send(c *client, eventType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
	return c.conn.WriteJSON(Event{Type: eventType, Payload: raw})
}

func (g *Gateway) sendError(c *client, message string) {
	errPayload, _ := json.Marshal(map[string]string{"message": message})
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
	c.conn.WriteJSON(Event{Type: "error", Payload: errPayload})
}

func (g *Gateway) HealthCheck(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	connectionCount := len(g.clients)
	g.mu.RUnlock()

	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": connectionCount,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
