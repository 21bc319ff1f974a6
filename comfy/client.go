// Package comfy talks to a running ComfyUI server: queueing API-format prompts,
// following their progress over the websocket status stream, and fetching the
// images they produce.
package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/richinsley/comfy2ayon/config"
	"github.com/richinsley/comfy2ayon/logger"
)

type ComfyClientCallbacks struct {
	ClientQueueCountChanged func(*ComfyClient, int)
	QueuedItemStarted       func(*ComfyClient, *QueueItem)
	QueuedItemStopped       func(*ComfyClient, *QueueItem, QueuedItemStoppedReason)
	QueuedItemDataAvailable func(*ComfyClient, *QueueItem, *PromptMessageData)
}

// ComfyClient is the top level object that allows for interaction with the ComfyUI backend
type ComfyClient struct {
	baseURL    string
	clientid   string
	httpclient *http.Client
	callbacks  *ComfyClientCallbacks
	log        logger.Logger

	mu                    sync.Mutex
	queueditems           map[string]*QueueItem
	queuecount            int
	lastProcessedPromptID string
	webSocket             *WebSocketConnection
}

// NewComfyClient creates a client for the ComfyUI server described by cfg. The
// websocket is not opened until Connect or the first QueuePrompt.
func NewComfyClient(cfg config.ComfyConfig, callbacks *ComfyClientCallbacks, log logger.Logger) *ComfyClient {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &ComfyClient{
		baseURL:     "http://" + cfg.Address + ":" + strconv.Itoa(cfg.Port),
		clientid:    uuid.New().String(),
		httpclient:  &http.Client{Timeout: 60 * time.Second},
		callbacks:   callbacks,
		log:         log.With(map[string]interface{}{"component": "comfy"}),
		queueditems: make(map[string]*QueueItem),
	}
}

// NewComfyClientFromURL is NewComfyClient for a server given as a base URL, such as an
// httptest server.
func NewComfyClientFromURL(baseURL string, callbacks *ComfyClientCallbacks, log logger.Logger) *ComfyClient {
	c := NewComfyClient(config.ComfyConfig{}, callbacks, log)
	c.baseURL = baseURL
	return c
}

// ClientID returns the unique client ID for the connection to the ComfyUI backend
func (c *ComfyClient) ClientID() string {
	return c.clientid
}

func (c *ComfyClient) BaseURL() string {
	return c.baseURL
}

// return the underlying http client
func (c *ComfyClient) HttpClient() *http.Client {
	return c.httpclient
}

// set the underlying http client
func (c *ComfyClient) SetHttpClient(client *http.Client) {
	c.httpclient = client
}

// QueueCount is the queue length last reported by the server.
func (c *ComfyClient) QueueCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queuecount
}

func (c *ComfyClient) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"clientId": {c.clientid}}.Encode()
	return u.String(), nil
}

// Connect opens the websocket status stream, retrying with backoff until ctx is done.
// It is a no-op when already connected.
func (c *ComfyClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.webSocket != nil && c.webSocket.Connected() {
		c.mu.Unlock()
		return nil
	}
	wsURL, err := c.websocketURL()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	ws := NewWebSocketConnection(wsURL, c, c.log)
	c.webSocket = ws
	c.mu.Unlock()

	return ws.ConnectWithManager(ctx)
}

// Close shuts down the websocket and abandons every queued item.
func (c *ComfyClient) Close() error {
	c.mu.Lock()
	ws := c.webSocket
	c.webSocket = nil
	for id, qi := range c.queueditems {
		qi.abandon()
		delete(c.queueditems, id)
	}
	c.mu.Unlock()
	if ws != nil {
		return ws.Close()
	}
	return nil
}

// GetQueuedItem returns a QueueItem that was queued with the ComfyClient, that has not been processed yet
// or is currently being processed.  Once a QueueItem has been processed, it will not be available with this method.
func (c *ComfyClient) GetQueuedItem(promptID string) *QueueItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueditems[promptID]
}

// OnMessage processes each message received from the websocket connection to ComfyUI.
// The messages are parsed, and translated into PromptMessage structs and placed into the correct QueuedItem's message channel.
func (c *ComfyClient) OnMessage(msg string) {
	message := &WSStatusMessage{}
	if err := json.Unmarshal([]byte(msg), message); err != nil {
		c.log.WithError(err).Warn("Deserializing status message", nil)
		return
	}

	c.mu.Lock()
	promptID := message.PromptID()
	if message.Type == "execution_start" && promptID != "" {
		// update lastProcessedPromptID to indicate we are processing a new prompt
		c.lastProcessedPromptID = promptID
	}
	if promptID == "" {
		promptID = c.lastProcessedPromptID
	}
	qi := c.queueditems[promptID]
	c.mu.Unlock()

	switch message.Type {
	case "status":
		s := message.Data.(*WSMessageDataStatus)
		c.mu.Lock()
		c.queuecount = s.Status.ExecInfo.QueueRemaining
		c.mu.Unlock()
		if c.callbacks != nil && c.callbacks.ClientQueueCountChanged != nil {
			c.callbacks.ClientQueueCountChanged(c, s.Status.ExecInfo.QueueRemaining)
		}
	case "execution_start":
		if qi == nil {
			return
		}
		if c.callbacks != nil && c.callbacks.QueuedItemStarted != nil {
			c.callbacks.QueuedItemStarted(c, qi)
		}
		qi.deliver(PromptMessage{Type: "started", Message: &PromptMessageStarted{PromptID: qi.PromptID}})
	case "execution_cached", "execution_success":
		// completion is signalled by the final "executing" message
	case "executing":
		s := message.Data.(*WSMessageDataExecuting)
		if qi == nil {
			return
		}
		if s.Node == nil {
			// final node was processed
			c.stop(qi, QueuedItemStoppedReasonFinished, nil)
			return
		}
		qi.deliver(PromptMessage{
			Type:    "executing",
			Message: &PromptMessageExecuting{NodeID: *s.Node, Title: qi.nodeTitle(*s.Node)},
		})
	case "progress":
		s := message.Data.(*WSMessageDataProgress)
		if qi == nil {
			return
		}
		qi.deliver(PromptMessage{Type: "progress", Message: &PromptMessageProgress{Value: s.Value, Max: s.Max}})
	case "executed":
		s := message.Data.(*WSMessageDataExecuted)
		if qi == nil {
			return
		}
		mdata := &PromptMessageData{NodeID: s.Node, Data: s.Output}
		if c.callbacks != nil && c.callbacks.QueuedItemDataAvailable != nil {
			c.callbacks.QueuedItemDataAvailable(c, qi, mdata)
		}
		qi.deliver(PromptMessage{Type: "data", Message: mdata})
	case "execution_interrupted":
		if qi != nil {
			c.stop(qi, QueuedItemStoppedReasonInterrupted, nil)
		}
	case "execution_error":
		s := message.Data.(*WSMessageExecutionError)
		if qi == nil {
			return
		}
		c.stop(qi, QueuedItemStoppedReasonError, &PromptMessageStoppedException{
			NodeID:           s.Node,
			NodeType:         s.NodeType,
			NodeName:         qi.nodeTitle(s.Node),
			ExceptionMessage: s.ExceptionMessage,
			ExceptionType:    s.ExceptionType,
			Traceback:        s.Traceback,
		})
	case "crystools.monitor", "progress_state", "feature_flags":
	default:
		c.log.Debug("Unhandled message type", map[string]interface{}{"type": message.Type})
	}
}

// stop removes the item from the queue before sending the final message; no other
// messages will be sent to the channel after this.
func (c *ComfyClient) stop(qi *QueueItem, reason QueuedItemStoppedReason, exc *PromptMessageStoppedException) {
	c.mu.Lock()
	delete(c.queueditems, qi.PromptID)
	c.mu.Unlock()

	if c.callbacks != nil && c.callbacks.QueuedItemStopped != nil {
		c.callbacks.QueuedItemStopped(c, qi, reason)
	}
	qi.deliver(PromptMessage{
		Type:    "stopped",
		Message: &PromptMessageStopped{QueueItem: qi, Reason: reason, Exception: exc},
	})
}

func (c *ComfyClient) endpoint(path string, params url.Values) string {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *ComfyClient) String() string {
	return fmt.Sprintf("ComfyClient(%s, %s)", c.baseURL, c.clientid)
}
