package comfy

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/richinsley/comfy2ayon/errdefs"
	"github.com/richinsley/comfy2ayon/graphapi"
	"github.com/richinsley/comfy2ayon/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrompt = `{
  "3": {"class_type": "LoadImage", "inputs": {"image": "in.png"}, "_meta": {"title": "AYON_filename_load"}},
  "9": {"class_type": "SaveImage", "inputs": {"filename_prefix": "out", "images": ["3", 0]}, "_meta": {"title": "AYON_filename_save"}}
}`

type fakeComfy struct {
	server   *httptest.Server
	queued   chan struct{}
	script   []string
	gotBody  atomic.Value
	wsClient atomic.Value
}

func newFakeComfy(t *testing.T, script []string) *fakeComfy {
	t.Helper()
	f := &fakeComfy{queued: make(chan struct{}, 1), script: script}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		f.wsClient.Store(r.URL.Query().Get("clientId"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","data":{"status":{"exec_info":{"queue_remaining":1}}}}`))
		select {
		case <-f.queued:
		case <-time.After(5 * time.Second):
			return
		}
		for _, m := range f.script {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// keep the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.gotBody.Store(body)
		f.queued <- struct{}{}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prompt_id":"p1","number":1,"node_errors":{}}`))
	})
	mux.HandleFunc("/system_stats", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"system":{"os":"posix","python_version":"3.11","embedded_python":false},"devices":[{"name":"cuda:0","type":"cuda","index":0,"vram_total":100,"vram_free":50}]}`))
	})
	mux.HandleFunc("/history/p1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"p1":{"outputs":{"9":{"images":[{"filename":"out_00001_.png","subfolder":"","type":"output"}]}},"status":{"status_str":"success","completed":true}}}`))
	})
	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filename") != "out_00001_.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("PNGDATA"))
	})
	mux.HandleFunc("/upload/image", func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"name":"` + header.Filename + `","subfolder":"","type":"input"}`))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func TestQueuePromptAndWait(t *testing.T) {
	fake := newFakeComfy(t, []string{
		`{"type":"execution_start","data":{"prompt_id":"p1"}}`,
		`{"type":"executing","data":{"node":"3","prompt_id":"p1"}}`,
		`{"type":"progress","data":{"value":1,"max":2,"prompt_id":"p1","node":"3"}}`,
		`{"type":"executed","data":{"node":"9","output":{"images":[{"filename":"out_00001_.png","subfolder":"","type":"output"}]},"prompt_id":"p1"}}`,
		`{"type":"executing","data":{"node":null,"prompt_id":"p1"}}`,
	})

	var stopped atomic.Value
	callbacks := &ComfyClientCallbacks{
		QueuedItemStopped: func(_ *ComfyClient, _ *QueueItem, reason QueuedItemStoppedReason) {
			stopped.Store(reason)
		},
	}
	c := NewComfyClientFromURL(fake.server.URL, callbacks, logger.NewTestLogger(t))
	defer c.Close()

	prompt, err := graphapi.LoadPrompt(strings.NewReader(testPrompt))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var titles []string
	var progress int
	handlers := &MessageHandlers{
		OnExecuting: func(m *PromptMessageExecuting) { titles = append(titles, m.Title) },
		OnProgress:  func(m *PromptMessageProgress) { progress = m.Value },
	}
	outputs, err := c.QueuePromptAndProcess(ctx, prompt, handlers)
	require.NoError(t, err)

	require.Len(t, outputs["9"], 1)
	assert.Equal(t, "out_00001_.png", outputs["9"][0].Filename)
	assert.Equal(t, []string{"AYON_filename_load"}, titles)
	assert.Equal(t, 1, progress)
	assert.Equal(t, QueuedItemStoppedReasonFinished, stopped.Load())
	assert.Nil(t, c.GetQueuedItem("p1"))

	body := fake.gotBody.Load().(map[string]interface{})
	assert.Equal(t, c.ClientID(), body["client_id"])
	assert.Equal(t, c.ClientID(), fake.wsClient.Load())
	assert.Contains(t, body["prompt"], "9")
}

func TestQueuePromptExecutionError(t *testing.T) {
	fake := newFakeComfy(t, []string{
		`{"type":"execution_start","data":{"prompt_id":"p1"}}`,
		`{"type":"execution_error","data":{"prompt_id":"p1","node_id":"3","node_type":"LoadImage","exception_message":"file not found","exception_type":"FileNotFoundError","traceback":[]}}`,
	})
	c := NewComfyClientFromURL(fake.server.URL, nil, logger.NewTestLogger(t))
	defer c.Close()

	prompt, err := graphapi.LoadPrompt(strings.NewReader(testPrompt))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var got *PromptMessageStoppedException
	_, err = c.QueuePromptAndProcess(ctx, prompt, &MessageHandlers{
		OnError: func(e *PromptMessageStoppedException) { got = e },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
	require.NotNil(t, got)
	assert.Equal(t, "AYON_filename_load", got.NodeName)
}

func TestQueuePromptRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
			if err == nil {
				defer conn.Close()
				_, _, _ = conn.ReadMessage()
			}
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"prompt_no_outputs","message":"Prompt has no outputs","details":"","extra_info":{}},"node_errors":[]}`))
	}))
	defer srv.Close()

	c := NewComfyClientFromURL(srv.URL, nil, nil)
	defer c.Close()
	prompt, err := graphapi.LoadPrompt(strings.NewReader(testPrompt))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = c.QueuePrompt(ctx, prompt)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalid(err))
	assert.Contains(t, err.Error(), "Prompt has no outputs")

	_, err = c.QueuePrompt(ctx, &graphapi.Prompt{})
	assert.True(t, errdefs.IsInvalid(err))
}

func TestWaitHonoursContext(t *testing.T) {
	qi := newQueueItem(nil)
	qi.PromptID = "p2"
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := qi.ProcessMessages(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)

	// deliveries after the waiter has gone must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			qi.deliver(PromptMessage{Type: "progress", Message: &PromptMessageProgress{Value: i}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deliver blocked after abandon")
	}
}

func TestRequests(t *testing.T) {
	fake := newFakeComfy(t, nil)
	c := NewComfyClientFromURL(fake.server.URL, nil, logger.NewTestLogger(t))
	ctx := context.Background()

	stats, err := c.GetSystemStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3.11", stats.System.PythonVersion)
	require.Len(t, stats.Devices, 1)
	assert.Equal(t, "cuda:0", stats.Devices[0].Name)

	h, err := c.GetHistory(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, h.Status.Completed)
	require.Len(t, h.Outputs["9"], 1)

	data, err := c.GetImage(ctx, h.Outputs["9"][0])
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	_, err = c.GetImage(ctx, DataOutput{Filename: "missing.png", Type: "output"})
	assert.True(t, errdefs.IsNotFound(err))

	name, err := c.UploadFileFromReader(ctx, strings.NewReader("x"), "plate.png", true, InputImageType, "")
	require.NoError(t, err)
	assert.Equal(t, "plate.png", name)
}

func TestOnMessageRoutesByLastPrompt(t *testing.T) {
	c := NewComfyClientFromURL("http://127.0.0.1:1", nil, nil)
	qi := newQueueItem(nil)
	qi.PromptID = "p1"
	c.queueditems["p1"] = qi

	c.OnMessage(`{"type":"execution_start","data":{"prompt_id":"p1"}}`)
	// some servers omit prompt_id on progress
	c.OnMessage(`{"type":"progress","data":{"value":3,"max":4}}`)
	c.OnMessage(`{"type":"status","data":{"status":{"exec_info":{"queue_remaining":2}}}}`)
	c.OnMessage(`not json`)

	m := <-qi.Messages
	assert.Equal(t, "started", m.Type)
	m = <-qi.Messages
	require.Equal(t, "progress", m.Type)
	assert.Equal(t, 3, m.Message.(*PromptMessageProgress).Value)
	assert.Equal(t, 2, c.QueueCount())
}

func pngChunk(typ string, data []byte) []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.BigEndian, uint32(len(data)))
	b.WriteString(typ)
	b.Write(data)
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)
	_ = binary.Write(&b, binary.BigEndian, crc.Sum32())
	return b.Bytes()
}

func TestPngMetadata(t *testing.T) {
	workflow := `{"last_node_id":1,"nodes":[{"id":1,"type":"SaveImage","pos":[0,0],"size":[1,1],"mode":0,"properties":{}}],"links":[]}`
	var b bytes.Buffer
	b.Write(pngSignature)
	b.Write(pngChunk("IHDR", make([]byte, 13)))
	b.Write(pngChunk("tEXt", append([]byte("workflow\x00"), workflow...)))
	b.Write(pngChunk("tEXt", append([]byte("prompt\x00"), testPrompt...)))
	b.Write(pngChunk("IEND", nil))

	meta, err := GetPngMetadata(bytes.NewReader(b.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, workflow, meta["workflow"])

	g, err := WorkflowFromPNG(bytes.NewReader(b.Bytes()))
	require.NoError(t, err)
	assert.NotNil(t, g.GetNodeById("1"))

	_, err = GetPngMetadata(strings.NewReader("GIF89a.."))
	assert.Error(t, err)
}
