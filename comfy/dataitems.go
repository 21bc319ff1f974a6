package comfy

import (
	"sync"

	"github.com/richinsley/comfy2ayon/graphapi"
)

// There may be other DataOutput types.  "text" carries raw text output.
type DataOutput struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	Text      string `json:"-"`
}

type SystemStats struct {
	System  System `json:"system"`
	Devices []GPU  `json:"devices"`
}

type System struct {
	OS             string `json:"os"`
	PythonVersion  string `json:"python_version"`
	EmbeddedPython bool   `json:"embedded_python"`
	ComfyUIVersion string `json:"comfyui_version,omitempty"`
}

type GPU struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Index          int    `json:"index"`
	VRAMTotal      int64  `json:"vram_total"`
	VRAMFree       int64  `json:"vram_free"`
	TorchVRAMTotal int64  `json:"torch_vram_total"`
	TorchVRAMFree  int64  `json:"torch_vram_free"`
}

type QueueExecInfo struct {
	ExecInfo struct {
		QueueRemaining int `json:"queue_remaining"`
	} `json:"exec_info"`
}

// HistoryItem is the finished state of one prompt.
type HistoryItem struct {
	PromptID string
	Outputs  map[string][]DataOutput
	Status   struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	}
}

type PromptError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details"`
	ExtraInfo map[string]interface{} `json:"extra_info"`
}

type PromptErrorMessage struct {
	Error      PromptError            `json:"error"`
	NodeErrors map[string]interface{} `json:"node_errors"`
}

type QueuedItemStoppedReason string

const (
	QueuedItemStoppedReasonFinished    QueuedItemStoppedReason = "finished"
	QueuedItemStoppedReasonInterrupted QueuedItemStoppedReason = "interrupted"
	QueuedItemStoppedReasonError       QueuedItemStoppedReason = "error"
)

// QueueItem is a prompt queued by this client. Messages are delivered until a
// "stopped" message, or until the waiter gives up.
type QueueItem struct {
	PromptID   string                 `json:"prompt_id"`
	Number     int                    `json:"number"`
	NodeErrors map[string]interface{} `json:"node_errors"`
	Messages   chan PromptMessage     `json:"-"`
	Prompt     *graphapi.Prompt       `json:"-"`

	done     chan struct{}
	doneOnce sync.Once
}

func newQueueItem(p *graphapi.Prompt) *QueueItem {
	return &QueueItem{
		Prompt:   p,
		Messages: make(chan PromptMessage, 64),
		done:     make(chan struct{}),
	}
}

// abandon stops further deliveries to the item.
func (qi *QueueItem) abandon() {
	qi.doneOnce.Do(func() { close(qi.done) })
}

// deliver hands m to the waiter unless it has gone away.
func (qi *QueueItem) deliver(m PromptMessage) {
	select {
	case qi.Messages <- m:
	case <-qi.done:
	}
}

// nodeTitle maps a node id from the stream to the node's title. Ids of nodes inside
// subgraphs look like "57:8"; the instance node is tried when the id is not found.
func (qi *QueueItem) nodeTitle(id string) string {
	if qi.Prompt == nil {
		return id
	}
	if n, ok := qi.Prompt.Nodes[id]; ok {
		return n.Title()
	}
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			if n, ok := qi.Prompt.Nodes[id[:i]]; ok {
				return n.Title()
			}
			break
		}
	}
	return id
}
