package comfy

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/richinsley/comfy2ayon/logger"
)

// Callback interface for handling incoming WebSocket messages
type WebSocketCallback interface {
	OnMessage(message string)
}

type WebSocketConnection struct {
	WebSocketURL string
	Callback     WebSocketCallback
	MaxRetry     int

	// Exponential backoff configuration
	BaseDelay time.Duration // The initial delay, e.g., 1 second
	MaxDelay  time.Duration // The maximum delay, e.g., 1 minute
	Dialer    websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	closed     bool
	retryCount int
	done       chan struct{}
	log        logger.Logger
}

func NewWebSocketConnection(wsURL string, cb WebSocketCallback, log logger.Logger) *WebSocketConnection {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &WebSocketConnection{
		WebSocketURL: wsURL,
		Callback:     cb,
		MaxRetry:     10,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Dialer:       *websocket.DefaultDialer,
		done:         make(chan struct{}),
		log:          log,
	}
}

// ConnectWithManager dials until a connection is made, MaxRetry attempts have failed or
// ctx is done. Once connected, messages are read on a background goroutine until the
// connection drops or Close is called.
func (w *WebSocketConnection) ConnectWithManager(ctx context.Context) error {
	retries := 0
	for {
		err := w.connect(ctx)
		if err == nil {
			go w.handleMessages()
			return nil
		}
		w.log.WithError(err).Warn("Websocket connection attempt failed", map[string]interface{}{
			"url":     w.WebSocketURL,
			"attempt": retries + 1,
		})

		// Check if the maximum number of retries has been reached
		retries++
		if retries > w.MaxRetry {
			return errors.New("maximum number of websocket connection retries reached")
		}

		select {
		case <-time.After(w.getReconnectDelay()):
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return errors.New("websocket closed")
		}
	}
}

func (w *WebSocketConnection) connect(ctx context.Context) error {
	conn, _, err := w.Dialer.DialContext(ctx, w.WebSocketURL, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		conn.Close()
		return errors.New("websocket closed")
	}
	w.conn = conn
	w.connected = true
	w.retryCount = 0
	return nil
}

func (w *WebSocketConnection) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *WebSocketConnection) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return errors.New("websocket not connected")
	}
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close stops the reader and closes the connection.
func (w *WebSocketConnection) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// Handle incoming WebSocket messages
func (w *WebSocketConnection) handleMessages() {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	defer func() {
		conn.Close()
		w.mu.Lock()
		w.connected = false
		w.mu.Unlock()
	}()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
			default:
				w.log.WithError(err).Warn("Websocket read error", nil)
			}
			return
		}
		if w.Callback != nil {
			w.Callback.OnMessage(string(message))
		}
	}
}

// exponential backoff calculation
func (w *WebSocketConnection) getReconnectDelay() time.Duration {
	// Calculate the delay as BaseDelay * 2^(RetryCount), capped at MaxDelay
	delay := w.BaseDelay * time.Duration(math.Pow(2, float64(w.retryCount)))
	if delay > w.MaxDelay || delay <= 0 {
		delay = w.MaxDelay
	}
	w.retryCount++ // Increment the retry counter for the next attempt
	return delay
}
