package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"

	"github.com/richinsley/comfy2ayon/errdefs"
	"github.com/richinsley/comfy2ayon/graphapi"
)

/*
@routes.get("/view")
@routes.get("/system_stats")
@routes.get("/prompt")
@routes.get("/object_info")
@routes.get("/history/{prompt_id}")

@routes.post("/prompt")
@routes.post("/interrupt")
@routes.post("/upload/image")
*/

func (c *ComfyClient) do(ctx context.Context, method, path string, params url.Values, body io.Reader, contentType string) ([]byte, error) {
	op := "comfy " + method + " " + path
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, params), body)
	if err != nil {
		return nil, errdefs.Invalid(op, "%v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, errdefs.Service(op, err, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errdefs.IO(op, err, "reading response")
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return raw, errdefs.NotFound(op, "%s", resp.Status)
	case resp.StatusCode >= 300:
		return raw, errdefs.Service(op, nil, "%s: %s", resp.Status, bytes.TrimSpace(raw))
	}
	return raw, nil
}

func (c *ComfyClient) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	raw, err := c.do(ctx, http.MethodGet, path, params, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errdefs.Service("comfy GET "+path, err, "decoding response")
	}
	return nil
}

func (c *ComfyClient) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	retv := &SystemStats{}
	if err := c.getJSON(ctx, "/system_stats", nil, retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// GetObjectInfoNames lists the node classes the server knows about, sorted.
func (c *ComfyClient) GetObjectInfoNames(ctx context.Context) ([]string, error) {
	objects := make(map[string]json.RawMessage)
	if err := c.getJSON(ctx, "/object_info", nil, &objects); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(objects))
	for k := range objects {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func (c *ComfyClient) GetQueueExecutionInfo(ctx context.Context) (*QueueExecInfo, error) {
	queueExec := &QueueExecInfo{}
	if err := c.getJSON(ctx, "/prompt", nil, queueExec); err != nil {
		return nil, err
	}
	return queueExec, nil
}

// GetHistory returns the finished state of a prompt. A prompt the server has not
// finished yet is reported as NotFound.
func (c *ComfyClient) GetHistory(ctx context.Context, promptID string) (*HistoryItem, error) {
	type internalHistoryItem struct {
		Outputs map[string]json.RawMessage `json:"outputs"`
		Status  struct {
			StatusStr string `json:"status_str"`
			Completed bool   `json:"completed"`
		} `json:"status"`
	}
	history := make(map[string]internalHistoryItem)
	if err := c.getJSON(ctx, "/history/"+url.PathEscape(promptID), nil, &history); err != nil {
		return nil, err
	}
	h, ok := history[promptID]
	if !ok {
		return nil, errdefs.NotFound("comfy history", "prompt %s has no history", promptID)
	}

	item := &HistoryItem{PromptID: promptID, Outputs: make(map[string][]DataOutput)}
	item.Status.StatusStr = h.Status.StatusStr
	item.Status.Completed = h.Status.Completed
	// each node's outputs have the same shape as an "executed" message
	for nodeID, raw := range h.Outputs {
		var executed WSMessageDataExecuted
		wrapped := fmt.Sprintf(`{"node":%q,"output":%s}`, nodeID, raw)
		if err := json.Unmarshal([]byte(wrapped), &executed); err != nil {
			return nil, errdefs.Service("comfy history", err, "decoding outputs of node %s", nodeID)
		}
		var all []DataOutput
		for _, outs := range executed.Output {
			all = append(all, outs...)
		}
		item.Outputs[nodeID] = all
	}
	return item, nil
}

// GetImage downloads one output file.
func (c *ComfyClient) GetImage(ctx context.Context, imageData DataOutput) ([]byte, error) {
	params := url.Values{}
	params.Add("filename", imageData.Filename)
	params.Add("subfolder", imageData.Subfolder)
	params.Add("type", imageData.Type)
	return c.do(ctx, http.MethodGet, "/view", params, nil, "")
}

// QueuePrompt connects the websocket if needed, then submits the prompt. Messages
// about the prompt are delivered on the returned item's Messages channel.
func (c *ComfyClient) QueuePrompt(ctx context.Context, prompt *graphapi.Prompt) (*QueueItem, error) {
	if prompt == nil || len(prompt.Nodes) == 0 {
		return nil, errdefs.Invalid("comfy queue prompt", "prompt has no nodes")
	}
	if err := c.Connect(ctx); err != nil {
		return nil, errdefs.Service("comfy queue prompt", err, "connecting websocket")
	}

	prompt.ClientID = c.clientid
	data, err := json.Marshal(prompt)
	if err != nil {
		return nil, errdefs.Invalid("comfy queue prompt", "%v", err)
	}

	// prevent a race where the ws may provide messages about a queued item before
	// we add the item to our internal map
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.do(ctx, http.MethodPost, "/prompt", nil, bytes.NewReader(data), "application/json")
	if err != nil {
		// {"error": {"type": "prompt_no_outputs", "message": "Prompt has no outputs", ...}, "node_errors": []}
		perror := &PromptErrorMessage{}
		if len(raw) > 0 && json.Unmarshal(raw, perror) == nil && perror.Error.Message != "" {
			return nil, errdefs.Invalid("comfy queue prompt", "%s: %s", perror.Error.Message, perror.Error.Details)
		}
		return nil, err
	}

	item := newQueueItem(prompt)
	if err := json.Unmarshal(raw, item); err != nil || item.PromptID == "" {
		return nil, errdefs.Service("comfy queue prompt", err, "unexpected response %s", bytes.TrimSpace(raw))
	}
	c.queueditems[item.PromptID] = item
	c.log.Info("Prompt queued", map[string]interface{}{"prompt_id": item.PromptID, "number": item.Number})
	return item, nil
}

func (c *ComfyClient) Interrupt(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/interrupt", nil, bytes.NewReader([]byte("{}")), "application/json")
	return err
}
