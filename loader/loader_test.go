package loader

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/comfy2ayon/comfy"
	"github.com/richinsley/comfy2ayon/errdefs"
	"github.com/richinsley/comfy2ayon/graphapi"
	"github.com/richinsley/comfy2ayon/logger"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) QueuePromptAndProcess(ctx context.Context, prompt *graphapi.Prompt, handlers *comfy.MessageHandlers) (map[string][]comfy.DataOutput, error) {
	args := m.Called(ctx, prompt, handlers)
	if v := args.Get(0); v != nil {
		return v.(map[string][]comfy.DataOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

const workflow = `{
	"1": {"class_type": "PrimitiveString", "inputs": {"value": ""}, "_meta": {"title": "AYON_filename_load"}},
	"2": {"class_type": "PrimitiveString", "inputs": {"value": ""}, "_meta": {"title": "AYON_filename_save"}},
	"3": {"class_type": "PrimitiveInt", "inputs": {"value": 0}, "_meta": {"title": "AYON_startframe"}},
	"4": {"class_type": "PrimitiveInt", "inputs": {"value": 0}, "_meta": {"title": "AYON_endframe"}},
	"5": {"class_type": "LoadEXR", "inputs": {"path": ["1", 0], "start": ["3", 0]}}
}`

func loadWorkflow(t *testing.T, src string) *graphapi.Prompt {
	t.Helper()
	p, err := graphapi.LoadPrompt(strings.NewReader(src))
	require.NoError(t, err)
	return p
}

func TestMakeFilePaths(t *testing.T) {
	load, save := MakeFilePaths("/proj/publish/render/v003/dem_sh010_render_v003.1001.exr")
	assert.Equal(t, "/proj/publish/render/v003/dem_sh010_render_v003.%04d.exr", load)
	assert.Equal(t, "/proj/publish/render/v003/comfyui_export/dem_sh010_render_v003_ComfyUIOutput.%04d.exr", save)

	load, save = MakeFilePaths("/in/plate.exr")
	assert.Equal(t, "/in/plate.%04d.exr", load)
	assert.Equal(t, "/in/comfyui_export/plate_ComfyUIOutput.%04d.exr", save)
}

func TestContextFromVersion(t *testing.T) {
	c := ContextFromVersion("/a.exr", map[string]any{"frameStart": 1001.0, "frameEnd": "1010"})
	require.NotNil(t, c.FrameStart)
	require.NotNil(t, c.FrameEnd)
	assert.Equal(t, 1001, *c.FrameStart)
	assert.Equal(t, 1010, *c.FrameEnd)

	c = ContextFromVersion("/a.exr", map[string]any{"frameStart": "soon"})
	assert.Nil(t, c.FrameStart)
	assert.Nil(t, c.FrameEnd)
}

func TestPrepareSetsTitledInputs(t *testing.T) {
	p := loadWorkflow(t, workflow)
	start, end := 1001, 1010
	load, save, err := Prepare(p, Context{Source: "/in/plate.1001.exr", FrameStart: &start, FrameEnd: &end})
	require.NoError(t, err)

	assert.Equal(t, load, p.Nodes["1"].Inputs["value"])
	assert.Equal(t, save, p.Nodes["2"].Inputs["value"])
	assert.Equal(t, 1001, p.Nodes["3"].Inputs["value"])
	assert.Equal(t, 1010, p.Nodes["4"].Inputs["value"])
	// links are untouched
	assert.Equal(t, []interface{}{"1", float64(0)}, p.Nodes["5"].Inputs["path"])
}

func TestPrepareWithoutFrames(t *testing.T) {
	p := loadWorkflow(t, `{
		"1": {"class_type": "S", "inputs": {"value": ""}, "_meta": {"title": "AYON_filename_load"}},
		"2": {"class_type": "S", "inputs": {"value": ""}, "_meta": {"title": "AYON_filename_save"}}
	}`)
	start := 1
	_, _, err := Prepare(p, Context{Source: "/in/plate.exr", FrameStart: &start})
	assert.NoError(t, err)
}

func TestPrepareRequiresFileNodes(t *testing.T) {
	p := loadWorkflow(t, `{"1": {"class_type": "S", "inputs": {"value": ""}, "_meta": {"title": "AYON_filename_load"}}}`)
	_, _, err := Prepare(p, Context{Source: "/in/plate.exr"})
	assert.True(t, errdefs.IsInvalid(err))

	_, _, err = Prepare(&graphapi.Prompt{}, Context{Source: "/in/plate.exr"})
	assert.True(t, errdefs.IsInvalid(err))

	_, _, err = Prepare(loadWorkflow(t, workflow), Context{})
	assert.True(t, errdefs.IsInvalid(err))
}

func TestApply(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "plate.1001.exr")
	p := loadWorkflow(t, workflow)

	out := map[string][]comfy.DataOutput{"9": {{Filename: "plate_ComfyUIOutput.1001.exr"}}}
	runner := &mockRunner{}
	runner.On("QueuePromptAndProcess", mock.Anything, p, mock.Anything).Return(out, nil).Once()

	l := New(runner, nil, logger.NewTestLogger(t))
	got, err := l.Apply(context.Background(), p, Context{Source: src})
	require.NoError(t, err)
	assert.Equal(t, out, got)
	assert.DirExists(t, filepath.Join(dir, ExportDir))
	runner.AssertExpectations(t)
}

func TestApplyReportsFailure(t *testing.T) {
	p := loadWorkflow(t, workflow)
	runner := &mockRunner{}
	runner.On("QueuePromptAndProcess", mock.Anything, p, mock.Anything).Return(nil, errors.New("interrupted"))

	l := New(runner, nil, nil)
	_, err := l.Apply(context.Background(), p, Context{Source: filepath.Join(t.TempDir(), "x.exr")})
	assert.EqualError(t, err, "interrupted")
}
