package emitter

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/energy-network-editor/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// CommandExecutor runs one {cmd, ...params} command.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd map[string]any) (map[string]any, error)
}

// Reply answers one command received over the socket.
type Reply struct {
	Event     string         `json:"event"`
	RequestID string         `json:"request_id,omitempty"`
	OK        bool           `json:"ok"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// EventResult is the event name of command replies.
const EventResult = "result"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler serves the browser socket: it streams the events of the model
// named by the "model" query parameter and accepts commands on the same
// connection.
type Handler struct {
	broker *Broker
	exec   CommandExecutor
	log    logging.Logger
}

// NewHandler creates a websocket handler. exec may be nil for a
// read-only event stream.
func NewHandler(broker *Broker, exec CommandExecutor, log logging.Logger) *Handler {
	if log == nil {
		log = logging.Noop()
	}
	return &Handler{broker: broker, exec: exec, log: log}
}

type wsClient struct {
	conn    *websocket.Conn
	modelID string
	sub     *Subscription
	send    chan []byte
	done    chan struct{}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if id := r.Header.Get("X-Request-ID"); id != "" {
		ctx = logging.ContextWithRequestID(ctx, id)
	}
	ctx, _ = logging.EnsureRequestID(ctx)
	modelID := r.URL.Query().Get("model")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(ctx, "websocket upgrade failed", logging.Err(err))
		return
	}

	client := &wsClient{
		conn:    conn,
		modelID: modelID,
		sub:     h.broker.Subscribe(modelID),
		send:    make(chan []byte, 16),
		done:    make(chan struct{}),
	}
	h.log.Info(ctx, "websocket client connected",
		logging.ModelID(modelID),
		logging.String("subscription_id", client.sub.ID),
	)

	go h.writePump(ctx, client)
	h.readPump(ctx, client)
}

func (h *Handler) readPump(ctx context.Context, c *wsClient) {
	defer func() {
		h.broker.Unsubscribe(c.sub)
		close(c.done)
		h.log.Info(ctx, "websocket client disconnected",
			logging.ModelID(c.modelID),
			logging.String("subscription_id", c.sub.ID),
		)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn(ctx, "websocket read failed", logging.Err(err))
			}
			return
		}
		reply := h.handleMessage(ctx, c, message)
		data, err := json.Marshal(reply)
		if err != nil {
			h.log.Error(ctx, "encode reply failed", logging.Err(err))
			continue
		}
		select {
		case c.send <- data:
		case <-c.done:
			return
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *wsClient, message []byte) Reply {
	var cmd map[string]any
	if err := json.Unmarshal(message, &cmd); err != nil {
		return Reply{Event: EventResult, Error: "invalid command: " + err.Error()}
	}
	reqID, _ := cmd["requestId"].(string)
	reply := Reply{Event: EventResult, RequestID: reqID}
	if h.exec == nil {
		reply.Error = "commands are not accepted on this endpoint"
		return reply
	}
	if _, ok := cmd["modelId"]; !ok && c.modelID != "" {
		cmd["modelId"] = c.modelID
	}

	cmdCtx := ctx
	if reqID != "" {
		cmdCtx = logging.ContextWithRequestID(ctx, reqID)
	}
	result, err := h.exec.Execute(cmdCtx, cmd)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	reply.OK = true
	reply.Result = result
	return reply
}

func (h *Handler) writePump(ctx context.Context, c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.C:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				h.log.Warn(ctx, "websocket write failed", logging.Err(err))
				return
			}
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Warn(ctx, "websocket write failed", logging.Err(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
