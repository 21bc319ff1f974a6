package comfy

import (
	"encoding/json"
	"fmt"
)

// WSStatusMessage is one frame of the ComfyUI websocket stream.
type WSStatusMessage struct {
	Type string
	Data interface{}
}

func (sm *WSStatusMessage) UnmarshalJSON(b []byte) error {
	var temp struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}
	sm.Type = temp.Type

	switch sm.Type {
	case "status":
		sm.Data = &WSMessageDataStatus{}
	case "execution_start", "execution_success":
		sm.Data = &WSMessageDataExecutionStart{}
	case "execution_cached":
		sm.Data = &WSMessageDataExecutionCached{}
	case "executing":
		sm.Data = &WSMessageDataExecuting{}
	case "progress":
		sm.Data = &WSMessageDataProgress{}
	case "executed":
		sm.Data = &WSMessageDataExecuted{}
	case "execution_interrupted":
		sm.Data = &WSMessageExecutionInterrupted{}
	case "execution_error":
		sm.Data = &WSMessageExecutionError{}
	default:
		sm.Data = nil
	}

	if sm.Data != nil && len(temp.Data) > 0 {
		if err := json.Unmarshal(temp.Data, sm.Data); err != nil {
			return fmt.Errorf("decoding %s message: %w", sm.Type, err)
		}
	}
	return nil
}

// PromptID returns the prompt a message refers to, "" when it carries none.
func (sm *WSStatusMessage) PromptID() string {
	switch d := sm.Data.(type) {
	case *WSMessageDataExecutionStart:
		return d.PromptID
	case *WSMessageDataExecutionCached:
		return d.PromptID
	case *WSMessageDataExecuting:
		return d.PromptID
	case *WSMessageDataProgress:
		return d.PromptID
	case *WSMessageDataExecuted:
		return d.PromptID
	case *WSMessageExecutionInterrupted:
		return d.PromptID
	case *WSMessageExecutionError:
		return d.PromptID
	}
	return ""
}

/*
{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 1}}, "sid": "..."}}
*/
type WSMessageDataStatus struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
}

/*
{"type": "execution_start", "data": {"prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/
type WSMessageDataExecutionStart struct {
	PromptID string `json:"prompt_id"`
}

type WSMessageDataExecutionCached struct {
	Nodes    []string `json:"nodes"`
	PromptID string   `json:"prompt_id"`
}

/*
{"type": "executing", "data": {"node": "12", "prompt_id": "ed986d60-..."}}
{"type": "executing", "data": {"node": null, "prompt_id": "ed986d60-..."}}
*/
type WSMessageDataExecuting struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

/*
{"type": "progress", "data": {"value": 1, "max": 20, "prompt_id": "...", "node": "3"}}
*/
type WSMessageDataProgress struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	PromptID string `json:"prompt_id"`
	Node     string `json:"node"`
}

/*
{"type": "executed", "data": {"node": "19", "output": {"images": [{"filename": "ComfyUI_00046_.png", "subfolder": "", "type": "output"}]}, "prompt_id": "..."}}
*/
type WSMessageDataExecuted struct {
	Node     string
	Output   map[string][]DataOutput
	PromptID string
}

func (mde *WSMessageDataExecuted) UnmarshalJSON(b []byte) error {
	var temp struct {
		Node     string                       `json:"node"`
		Output   map[string][]json.RawMessage `json:"output"`
		PromptID string                       `json:"prompt_id"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}
	mde.Node = temp.Node
	mde.PromptID = temp.PromptID
	mde.Output = make(map[string][]DataOutput, len(temp.Output))

	for k, entries := range temp.Output {
		for _, raw := range entries {
			var out DataOutput
			if err := json.Unmarshal(raw, &out); err == nil && out.Filename != "" {
				mde.Output[k] = append(mde.Output[k], out)
				continue
			}
			// text nodes report bare strings, anything else is kept verbatim
			var text string
			if err := json.Unmarshal(raw, &text); err == nil {
				mde.Output[k] = append(mde.Output[k], DataOutput{Type: "text", Text: text})
				continue
			}
			mde.Output[k] = append(mde.Output[k], DataOutput{Type: "unknown", Text: string(raw)})
		}
	}
	return nil
}

type WSMessageExecutionInterrupted struct {
	PromptID string   `json:"prompt_id"`
	Node     string   `json:"node_id"`
	NodeType string   `json:"node_type"`
	Executed []string `json:"executed"`
}

type WSMessageExecutionError struct {
	PromptID         string   `json:"prompt_id"`
	Node             string   `json:"node_id"`
	NodeType         string   `json:"node_type"`
	Executed         []string `json:"executed"`
	ExceptionMessage string   `json:"exception_message"`
	ExceptionType    string   `json:"exception_type"`
	Traceback        []string `json:"traceback"`
}

// PromptMessage is what a QueueItem receives, translated from the websocket stream.
type PromptMessage struct {
	Type    string
	Message interface{}
}

// our cast of characters:
// started
// executing
// progress
// data
// stopped

type PromptMessageStarted struct {
	PromptID string
}

type PromptMessageExecuting struct {
	NodeID string
	Title  string
}

type PromptMessageProgress struct {
	Max   int
	Value int
}

type PromptMessageData struct {
	NodeID string
	Data   map[string][]DataOutput
}

type PromptMessageStopped struct {
	QueueItem *QueueItem
	Reason    QueuedItemStoppedReason
	Exception *PromptMessageStoppedException
}

type PromptMessageStoppedException struct {
	NodeID           string
	NodeType         string
	NodeName         string
	ExceptionMessage string
	ExceptionType    string
	Traceback        []string
}

func (e *PromptMessageStoppedException) Error() string {
	return fmt.Sprintf("node %s (%s) failed: %s: %s", e.NodeID, e.NodeType, e.ExceptionType, e.ExceptionMessage)
}
