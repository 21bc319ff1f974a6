package comfy

import (
	"context"
	"fmt"

	"github.com/richinsley/comfy2ayon/graphapi"
	"github.com/richinsley/comfy2ayon/logger"
)

// MessageHandlers defines optional callback functions for handling different message types
// from a QueueItem. All handlers are optional - only provide handlers for the messages you care about.
type MessageHandlers struct {
	// OnStarted is called when execution begins
	OnStarted func(*PromptMessageStarted)

	// OnExecuting is called when a node starts executing
	OnExecuting func(*PromptMessageExecuting)

	// OnProgress is called with progress updates during node execution
	OnProgress func(*PromptMessageProgress)

	// OnData is called when output data is available
	OnData func(*PromptMessageData)

	// OnStopped is called when execution stops (success, error, or interruption)
	OnStopped func(*PromptMessageStopped)

	// OnError is called before OnStopped when an error occurs
	OnError func(*PromptMessageStoppedException)
}

// DefaultMessageHandlers logs started, executing, error and stopped messages.
func DefaultMessageHandlers(log logger.Logger) *MessageHandlers {
	return &MessageHandlers{
		OnStarted: func(msg *PromptMessageStarted) {
			log.Info("Execution started", map[string]interface{}{"prompt_id": msg.PromptID})
		},
		OnExecuting: func(msg *PromptMessageExecuting) {
			log.Debug("Executing node", map[string]interface{}{"node_id": msg.NodeID, "title": msg.Title})
		},
		OnError: func(err *PromptMessageStoppedException) {
			log.Error("Execution error", map[string]interface{}{
				"node_id":   err.NodeID,
				"node_type": err.NodeType,
				"error":     err.ExceptionMessage,
			})
		},
		OnStopped: func(msg *PromptMessageStopped) {
			log.Info("Execution stopped", map[string]interface{}{"reason": string(msg.Reason)})
		},
	}
}

// WithProgressHandler adds a progress handler (builder pattern)
func (h *MessageHandlers) WithProgressHandler(fn func(*PromptMessageProgress)) *MessageHandlers {
	h.OnProgress = fn
	return h
}

// WithDataHandler adds a data handler (builder pattern)
func (h *MessageHandlers) WithDataHandler(fn func(*PromptMessageData)) *MessageHandlers {
	h.OnData = fn
	return h
}

// ProcessMessages dispatches the item's messages to handlers until execution stops or
// ctx is done. It returns the outputs collected from "executed" messages keyed by node
// id, and an error when execution failed, was interrupted or ctx ended first.
func (qi *QueueItem) ProcessMessages(ctx context.Context, handlers *MessageHandlers) (map[string][]DataOutput, error) {
	if handlers == nil {
		handlers = &MessageHandlers{}
	}
	defer qi.abandon()

	outputs := make(map[string][]DataOutput)
	for {
		var msg PromptMessage
		select {
		case msg = <-qi.Messages:
		case <-ctx.Done():
			return outputs, ctx.Err()
		}

		switch m := msg.Message.(type) {
		case *PromptMessageStarted:
			if handlers.OnStarted != nil {
				handlers.OnStarted(m)
			}
		case *PromptMessageExecuting:
			if handlers.OnExecuting != nil {
				handlers.OnExecuting(m)
			}
		case *PromptMessageProgress:
			if handlers.OnProgress != nil {
				handlers.OnProgress(m)
			}
		case *PromptMessageData:
			for _, outs := range m.Data {
				outputs[m.NodeID] = append(outputs[m.NodeID], outs...)
			}
			if handlers.OnData != nil {
				handlers.OnData(m)
			}
		case *PromptMessageStopped:
			var err error
			if m.Exception != nil {
				if handlers.OnError != nil {
					handlers.OnError(m.Exception)
				}
				err = fmt.Errorf("execution failed: %w", m.Exception)
			} else if m.Reason == QueuedItemStoppedReasonInterrupted {
				err = fmt.Errorf("execution of prompt %s was interrupted", qi.PromptID)
			}
			if handlers.OnStopped != nil {
				handlers.OnStopped(m)
			}
			return outputs, err
		}
	}
}

// WaitForPrompt blocks until the queued prompt finishes.
func (c *ComfyClient) WaitForPrompt(ctx context.Context, item *QueueItem, handlers *MessageHandlers) (map[string][]DataOutput, error) {
	outputs, err := item.ProcessMessages(ctx, handlers)
	if err != nil {
		c.mu.Lock()
		delete(c.queueditems, item.PromptID)
		c.mu.Unlock()
	}
	return outputs, err
}

// QueuePromptAndProcess queues a prompt and processes its messages until it stops.
func (c *ComfyClient) QueuePromptAndProcess(ctx context.Context, prompt *graphapi.Prompt, handlers *MessageHandlers) (map[string][]DataOutput, error) {
	item, err := c.QueuePrompt(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to queue prompt: %w", err)
	}
	return c.WaitForPrompt(ctx, item, handlers)
}
