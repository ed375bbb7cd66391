package signal

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"fleetview/playback/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 30 * time.Second
	handshakeTimeout    = 10 * time.Second
	writeTimeout        = 5 * time.Second
)

const (
	actionSDPOffer     = "SDP_OFFER"
	actionICECandidate = "ICE_CANDIDATE"

	typeSDPAnswer      = "SDP_ANSWER"
	typeICECandidate   = "ICE_CANDIDATE"
	typeStatusResponse = "STATUS_RESPONSE"
	typeGoAway         = "GO_AWAY"
)

// message is the generic WebSocket message envelope.
type message struct {
	Action            string          `json:"action,omitempty"`
	MessageType       string          `json:"messageType,omitempty"`
	MessagePayload    string          `json:"messagePayload,omitempty"`
	RecipientClientID string          `json:"recipientClientId,omitempty"`
	SenderClientID    string          `json:"senderClientId,omitempty"`
	CorrelationID     string          `json:"correlationId,omitempty"`
	StatusResponse    *statusResponse `json:"statusResponse,omitempty"`
}

type statusResponse struct {
	StatusCode  string `json:"statusCode"`
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
}

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	conn    *websocket.Conn
	desc    *domain.SignalingDescriptor
	name    string
	handler domain.Handler
	dialer  *websocket.Dialer

	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient creates a new signaling client for one viewer session.
func NewClient(desc *domain.SignalingDescriptor, name string, handler domain.Handler) *Client {
	return &Client{
		desc:    desc,
		name:    name,
		handler: handler,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		closed: make(chan struct{}),
	}
}

// Connect dials the signaling WebSocket, starts the read loop and reports
// the open channel to the handler.
func (c *Client) Connect() error {
	u, err := SignedURL(c.desc, time.Now())
	if err != nil {
		return &domain.SignalingError{Op: "sign", Err: err}
	}

	log.Printf("[signal] %s: connecting to %s", c.name, c.desc.Endpoint)

	conn, _, err := c.dialer.Dial(u, nil)
	if err != nil {
		return &domain.SignalingError{Op: "dial", Err: err}
	}

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		conn.Close()
		return &domain.SignalingError{Op: "dial", Err: domain.ErrDisposed}
	default:
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop()
	go c.pingLoop()

	c.handler.OnOpen()
	return nil
}

// Close shuts down the WebSocket connection. Handler callbacks stop once
// Close returns.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.closed)
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) sendJSON(msg message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.isClosed() {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[signal] %s: marshal error: %v", c.name, err)
		return
	}
	log.Printf("[signal] %s: >>> %s", c.name, msg.Action)
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[signal] %s: write error: %v", c.name, err)
		go c.handler.OnSignalingError(&domain.SignalingError{Op: "write", Err: err})
	}
}

func encodePayload(v any) string {
	payloadJSON, _ := json.Marshal(v)
	return base64.StdEncoding.EncodeToString(payloadJSON)
}

// SendSDPOffer sends the local SDP offer.
func (c *Client) SendSDPOffer(sdp string) {
	c.sendJSON(message{
		Action:         actionSDPOffer,
		MessagePayload: encodePayload(domain.SDPPayload{Type: "offer", SDP: sdp}),
	})
}

// SendICECandidate sends a local ICE candidate.
func (c *Client) SendICECandidate(candidate domain.ICECandidatePayload) {
	c.sendJSON(message{
		Action:         actionICECandidate,
		MessagePayload: encodePayload(candidate),
	})
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			log.Printf("[signal] %s: read error: %v", c.name, err)
			c.handler.OnSignalingError(&domain.SignalingError{Op: "read", Err: err})
			c.handler.OnClose()
			return
		}
		if c.isClosed() {
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[signal] %s: unmarshal error: %v", c.name, err)
			continue
		}

		c.dispatch(msg)
	}
}

func decodePayload(encoded string, v any) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(decoded, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

func (c *Client) dispatch(msg message) {
	switch msg.MessageType {
	case typeSDPAnswer:
		var sdp domain.SDPPayload
		if err := decodePayload(msg.MessagePayload, &sdp); err != nil {
			c.handler.OnSignalingError(&domain.SignalingError{Op: "answer", Err: err})
			return
		}
		log.Printf("[signal] %s: received SDP answer", c.name)
		c.handler.OnSDPAnswer(sdp)

	case typeICECandidate:
		var candidate domain.ICECandidatePayload
		if err := decodePayload(msg.MessagePayload, &candidate); err != nil {
			c.handler.OnSignalingError(&domain.SignalingError{Op: "candidate", Err: err})
			return
		}
		c.handler.OnRemoteICECandidate(candidate)

	case typeStatusResponse:
		if msg.StatusResponse != nil && msg.StatusResponse.StatusCode != "200" {
			c.handler.OnSignalingError(&domain.SignalingError{
				Op:  "status",
				Err: fmt.Errorf("%s %s: %s", msg.StatusResponse.StatusCode, msg.StatusResponse.ErrorType, msg.StatusResponse.Description),
			})
		}

	case typeGoAway:
		log.Printf("[signal] %s: server requested disconnect", c.name)
		c.handler.OnClose()

	default:
		log.Printf("[signal] %s: unhandled message type: %q", c.name, msg.MessageType)
	}
}

func (c *Client) pingLoop() {
	interval := time.Duration(c.desc.SignalPingInterval) * time.Second
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(writeTimeout),
			)
			c.mu.Unlock()
			if err != nil {
				if c.isClosed() {
					return
				}
				log.Printf("[signal] %s: ping error: %v", c.name, err)
				return
			}
		}
	}
}
