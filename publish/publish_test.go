package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/comfy2ayon/ayon"
	"github.com/richinsley/comfy2ayon/ayon/ayontest"
	"github.com/richinsley/comfy2ayon/errdefs"
	"github.com/richinsley/comfy2ayon/graphapi"
	"github.com/richinsley/comfy2ayon/logger"
	"github.com/richinsley/comfy2ayon/sequence"
)

func anatomyConfig(root string) map[string]any {
	return map[string]any{
		"roots": map[string]any{
			"publish": map[string]any{"windows": root, "linux": root, "darwin": root},
		},
		"templates": map[string]any{
			"publish": map[string]any{
				"ComfyUi": map[string]any{
					"directory": "{root[publish]}/{project[name]}/{hierarchy}/{folder[name]}/publish/{product[type]}/{product[name]}/{version}",
					"file":      "{project[code]}_{folder[name]}_{product[name]}_{version}<_{output}><.{frame}><_{udim}>.{ext}",
				},
			},
		},
	}
}

func testConfig() Config {
	return Config{
		TemplateName:       "ComfyUi",
		Author:             "artist",
		Status:             "Pending review",
		FPS:                24,
		ResolutionWidth:    1920,
		ResolutionHeight:   1080,
		Colorspace:         "sRGB",
		ReviewTags:         []string{"review"},
		DefaultProductType: "render",
		DefaultVariant:     "Main",
		DefaultTask:        "main",
		Project:            "demo",
		Folder:             "/shots/sh010",
		Task:               "comp",
	}
}

func writeFiles(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, len(names))
	for i, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte(n), 0o644))
		paths[i] = p
	}
	return paths
}

func TestNextVersion(t *testing.T) {
	assert.Equal(t, 1, NextVersion(nil))
	assert.Equal(t, 5, NextVersion([]ayon.Version{{Version: 1}, {Version: 2}, {Version: 4}}))
	assert.Equal(t, 3, NextVersion([]ayon.Version{{Version: 2}, {Version: 2}}))
}

func TestCopyFilePreservesModeAndTime(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	require.NoError(t, os.WriteFile(src, []byte("pixels"), 0o640))
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	dst := filepath.Join(dir, "dst.png")
	require.NoError(t, CopyFile(src, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime))
	data, _ := os.ReadFile(dst)
	assert.Equal(t, "pixels", string(data))

	err = CopyFile(filepath.Join(dir, "missing.png"), dst)
	assert.True(t, errdefs.IsIO(err))
}

func expectLookups(svc *ayontest.MockService, pubRoot string) {
	svc.On("GetFolderByPath", mock.Anything, "demo", "/shots/sh010").
		Return(&ayon.Folder{ID: "f1", Name: "sh010", Path: "/shots/sh010"}, nil)
	svc.On("GetTaskByFolderPath", mock.Anything, "demo", "/shots/sh010", "comp").
		Return(&ayon.Task{ID: "t1", Name: "comp"}, nil)
	svc.On("GetProductByName", mock.Anything, "demo", "f1", "renderMain").Return(nil, nil)
	svc.On("CreateProduct", mock.Anything, "demo", mock.MatchedBy(func(p ayon.Product) bool {
		return p.Name == "renderMain" && p.ProductType == "render" && p.FolderID == "f1"
	})).Return(ayon.CreateResult{ID: "p1"}, nil)
	svc.On("GetProduct", mock.Anything, "demo", "p1").
		Return(&ayon.Product{ID: "p1", Name: "renderMain", ProductType: "render", FolderID: "f1"}, nil)
	svc.On("GetVersions", mock.Anything, "demo", "p1").
		Return([]ayon.Version{{Version: 1}, {Version: 2}, {Version: 4}}, nil)
	svc.On("GetProject", mock.Anything, "demo").
		Return(&ayon.Project{Name: "demo", Config: anatomyConfig(pubRoot)}, nil)
}

func TestPublishSequenceAndStandalone(t *testing.T) {
	src := t.TempDir()
	pubRoot := t.TempDir()
	files := writeFiles(t, src, "shot.1003.png", "shot.1001.png", "shot.1002.png", "notes.json")

	svc := &ayontest.MockService{}
	expectLookups(svc, pubRoot)
	svc.On("CreateVersion", mock.Anything, "demo", mock.MatchedBy(func(v ayon.Version) bool {
		return v.Version == 5 && v.ProductID == "p1" && v.TaskID == "t1" && v.Author == "artist" &&
			v.Status == "Pending review" && v.Attrib["frameStart"] == 1001 && v.Attrib["frameEnd"] == 1003
	})).Return(ayon.CreateResult{ID: "v1"}, nil).Once()
	svc.On("CreateRepresentation", mock.Anything, "demo", mock.MatchedBy(func(r ayon.Representation) bool {
		return r.Name == "png" && len(r.Files) == 3 && r.Data["isSequence"] == true &&
			strings.HasSuffix(r.Attrib["template"].(string), "dem_sh010_renderMain_v005.####.png")
	})).Return(ayon.CreateResult{ID: "r1"}, nil).Once()
	svc.On("CreateRepresentation", mock.Anything, "demo", mock.MatchedBy(func(r ayon.Representation) bool {
		return r.Name == "json" && len(r.Files) == 1 && r.Data["isSequence"] == false
	})).Return(ayon.CreateResult{ID: "r2"}, nil).Once()
	svc.On("UploadReviewable", mock.Anything, "demo", "v1", mock.Anything).Return(nil).Twice()

	p := NewPublisher(svc, testConfig(), logger.NewTestLogger(t))
	var copied []string
	p.OnCopy = func(_, dst string) { copied = append(copied, dst) }

	res := p.Run(context.Background(), Request{
		ProjectName: "demo",
		FolderPath:  "/shots/sh010",
		TaskName:    "comp",
		ProductName: "renderMain",
		ProductType: "render",
		Files:       files,
		Description: "first pass",
	})
	require.True(t, res.OK(), "%v", res)
	rec := res.(Success).Record

	assert.Equal(t, "p1", rec.ProductID)
	assert.Equal(t, "v1", rec.VersionID)
	assert.Equal(t, 5, rec.Version)
	assert.Equal(t, []string{"r1", "r2"}, rec.RepresentationIDs)
	require.Len(t, rec.Paths, 4)
	assert.Equal(t, rec.Paths, copied)

	wantDir := filepath.Join(pubRoot, "demo", "shots", "sh010", "publish", "render", "renderMain", "v005")
	var names []string
	for _, p := range rec.Paths {
		assert.Equal(t, wantDir, filepath.Dir(p))
		assert.FileExists(t, p)
		names = append(names, filepath.Base(p))
	}
	assert.Equal(t, []string{
		"dem_sh010_renderMain_v005.1001.png",
		"dem_sh010_renderMain_v005.1002.png",
		"dem_sh010_renderMain_v005.1003.png",
		"dem_sh010_renderMain_v005.json",
	}, names)

	// the first file of each group is the reviewable
	svc.AssertCalled(t, "UploadReviewable", mock.Anything, "demo", "v1", rec.Paths[0])
	svc.AssertCalled(t, "UploadReviewable", mock.Anything, "demo", "v1", rec.Paths[3])
	svc.AssertExpectations(t)
}

func TestPublishSingleFileIsNotSequence(t *testing.T) {
	src := t.TempDir()
	pubRoot := t.TempDir()
	files := writeFiles(t, src, "render.png")

	svc := &ayontest.MockService{}
	expectLookups(svc, pubRoot)
	svc.On("CreateVersion", mock.Anything, "demo", mock.MatchedBy(func(v ayon.Version) bool {
		_, hasRange := v.Attrib["frameStart"]
		return !hasRange && v.Attrib["fps"] == float64(24)
	})).Return(ayon.CreateResult{ID: "v1"}, nil)
	svc.On("CreateRepresentation", mock.Anything, "demo", mock.MatchedBy(func(r ayon.Representation) bool {
		for _, tag := range r.Tags {
			if tag == "sequence" {
				return false
			}
		}
		return r.Data["isSequence"] == false && r.Data["originalBasename"] == "render.png" && r.Data["colorspace"] == "sRGB"
	})).Return(ayon.CreateResult{ID: "r1"}, nil)
	svc.On("UploadReviewable", mock.Anything, "demo", "v1", mock.Anything).Return(nil)

	rec, err := NewPublisher(svc, testConfig(), nil).Publish(context.Background(), Request{
		ProjectName: "demo", FolderPath: "/shots/sh010", TaskName: "comp", ProductName: "renderMain", Files: files,
	})
	require.NoError(t, err)
	require.Len(t, rec.Paths, 1)
	assert.Equal(t, "dem_sh010_renderMain_v005.png", filepath.Base(rec.Paths[0]))
	svc.AssertExpectations(t)
}

func TestPublishValidatesFilesFirst(t *testing.T) {
	svc := &ayontest.MockService{}
	p := NewPublisher(svc, testConfig(), nil)

	res := p.Run(context.Background(), Request{
		ProjectName: "demo", FolderPath: "/shots/sh010", ProductName: "renderMain",
		Files: []string{filepath.Join(t.TempDir(), "nope.png")},
	})
	require.False(t, res.OK())
	f := res.(Failure)
	assert.Equal(t, errdefs.KindNotFound, f.Kind)
	assert.Nil(t, f.Partial)

	res = p.Run(context.Background(), Request{ProjectName: "demo", FolderPath: "/x", ProductName: "p"})
	assert.Equal(t, errdefs.KindInvalid, res.(Failure).Kind)

	svc.AssertNotCalled(t, "GetFolderByPath", mock.Anything, mock.Anything, mock.Anything)
}

func TestPublishFolderNotFound(t *testing.T) {
	files := writeFiles(t, t.TempDir(), "render.png")
	svc := &ayontest.MockService{}
	svc.On("GetFolderByPath", mock.Anything, "demo", "/nowhere").
		Return(nil, errdefs.NotFound("GetFolderByPath", "folder not found: /nowhere"))

	res := NewPublisher(svc, testConfig(), nil).Run(context.Background(), Request{
		ProjectName: "demo", FolderPath: "/nowhere", ProductName: "renderMain", Files: files,
	})
	require.False(t, res.OK())
	assert.Equal(t, errdefs.KindNotFound, res.(Failure).Kind)
	assert.Nil(t, res.(Failure).Partial)
}

func TestPublishKeepsPartialRecord(t *testing.T) {
	src := t.TempDir()
	pubRoot := t.TempDir()
	files := writeFiles(t, src, "a.png", "b.exr")

	svc := &ayontest.MockService{}
	expectLookups(svc, pubRoot)
	svc.On("CreateVersion", mock.Anything, "demo", mock.Anything).Return(ayon.CreateResult{ID: "v1"}, nil)
	svc.On("CreateRepresentation", mock.Anything, "demo", mock.MatchedBy(func(r ayon.Representation) bool {
		return r.Name == "png"
	})).Return(ayon.CreateResult{ID: "r1"}, nil)
	svc.On("CreateRepresentation", mock.Anything, "demo", mock.MatchedBy(func(r ayon.Representation) bool {
		return r.Name == "exr"
	})).Return(ayon.CreateResult{}, errdefs.Service("CreateRepresentation", errors.New("boom"), "server error"))
	svc.On("UploadReviewable", mock.Anything, "demo", "v1", mock.Anything).Return(nil)

	res := NewPublisher(svc, testConfig(), nil).Run(context.Background(), Request{
		ProjectName: "demo", FolderPath: "/shots/sh010", TaskName: "comp", ProductName: "renderMain", Files: files,
	})
	require.False(t, res.OK())
	f := res.(Failure)
	assert.Equal(t, errdefs.KindService, f.Kind)
	require.NotNil(t, f.Partial)
	assert.Equal(t, "v1", f.Partial.VersionID)
	assert.Equal(t, []string{"r1"}, f.Partial.RepresentationIDs)
	// nothing copied is removed
	require.Len(t, f.Partial.Paths, 2)
	for _, p := range f.Partial.Paths {
		assert.FileExists(t, p)
	}
}

func TestPublishRejectsCollidingFrames(t *testing.T) {
	src := t.TempDir()
	files := writeFiles(t, src, "foo.1.png", "foo.001.png")

	svc := &ayontest.MockService{}
	expectLookups(svc, t.TempDir())

	_, err := NewPublisher(svc, testConfig(), nil).Publish(context.Background(), Request{
		ProjectName: "demo", FolderPath: "/shots/sh010", TaskName: "comp", ProductName: "renderMain", Files: files,
	})
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalid(err))
	svc.AssertNotCalled(t, "CreateVersion", mock.Anything, mock.Anything, mock.Anything)
}

func TestPublishRejectsCollidingStandaloneFiles(t *testing.T) {
	src := t.TempDir()
	pubRoot := t.TempDir()
	files := writeFiles(t, src, "a.png", "b.png")

	svc := &ayontest.MockService{}
	expectLookups(svc, pubRoot)

	record, err := NewPublisher(svc, testConfig(), nil).Publish(context.Background(), Request{
		ProjectName: "demo", FolderPath: "/shots/sh010", TaskName: "comp", ProductName: "renderMain", Files: files,
	})
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalid(err))
	assert.Contains(t, err.Error(), "same destination")
	// rejected before anything is copied or registered
	assert.Empty(t, record.Paths)
	svc.AssertNotCalled(t, "CreateVersion", mock.Anything, mock.Anything, mock.Anything)
	svc.AssertNotCalled(t, "CreateRepresentation", mock.Anything, mock.Anything, mock.Anything)
}

func TestRepresentationNames(t *testing.T) {
	groups := sequence.Detect([]string{"/a/beauty.1.png", "/a/beauty.2.png", "/a/thumb.png", "/a/x.png", "/a/wf.json"})
	assert.Equal(t, []string{"png", "thumb", "x", "json"}, representationNames(groups))

	groups = sequence.Detect([]string{"/a/png.png", "/b/png.png", "/c/png.png"})
	assert.Equal(t, []string{"png", "png2", "png3"}, representationNames(groups))
}

func TestNextFreeNameAndLatestImage(t *testing.T) {
	dir := t.TempDir()
	p, n, err := NextFreeName(dir, "renderMain", "png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "renderMain_00001.png"), p)
	assert.Equal(t, 1, n)

	writeFiles(t, dir, "renderMain_00001.png", "renderMain_00002.png")
	p, n, err = NextFreeName(dir, "renderMain", "png")
	require.NoError(t, err)
	assert.Equal(t, "renderMain_00003.png", filepath.Base(p))
	assert.Equal(t, 3, n)

	old := filepath.Join(dir, "renderMain_00001.png")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	latest, err := LatestImage(dir)
	require.NoError(t, err)
	assert.Equal(t, "renderMain_00002.png", filepath.Base(latest))

	_, err = LatestImage(t.TempDir())
	assert.True(t, errdefs.IsNotFound(err))
}

func TestNextFreeNameStopsOnStatError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("a path below a regular file reads as missing on windows")
	}
	// stat below a regular file fails with ENOTDIR, not with not-exist
	notDir := writeFiles(t, t.TempDir(), "output")[0]
	_, _, err := NextFreeName(notDir, "renderMain", "png")
	require.Error(t, err)
	assert.True(t, errdefs.IsIO(err))
}

func TestOutputPath(t *testing.T) {
	svc := &ayontest.MockService{}
	svc.On("GetFolderByPath", mock.Anything, "demo", "/shots/sh010").Return(&ayon.Folder{ID: "f1"}, nil)
	svc.On("GetTaskByFolderPath", mock.Anything, "demo", "/shots/sh010", "comp").Return(&ayon.Task{ID: "t1"}, nil)
	svc.On("GetFolderByPath", mock.Anything, "demo", "/missing").Return(nil, errdefs.NotFound("GetFolderByPath", "nope"))

	cfg := testConfig()
	cfg.ProjectRoot = "/mnt/projects/demo"
	cfg.OutputDir = "/comfy/output"
	n := NewNodePublisher(svc, nil, cfg, nil, nil)

	target := OutputTarget{Project: "demo", FolderPath: "/shots/sh010", TaskName: "comp", ProductType: "render", Variant: "Main"}
	p, err := n.OutputPath(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/mnt/projects/demo", "shots", "sh010", "comp", "render", "Main"), p)

	cfg.ProjectRoot = "/mnt/projects"
	n = NewNodePublisher(svc, nil, cfg, nil, nil)
	p, err = n.OutputPath(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/mnt/projects", "demo", "shots", "sh010", "comp", "render", "Main"), p)

	target.FolderPath = "/missing"
	assert.Equal(t, filepath.Join("/comfy/output", "ayon_publish", "render", "Main"), n.OutputPathOrFallback(context.Background(), target))
}

func TestProductNamePrefix(t *testing.T) {
	svc := &ayontest.MockService{}
	svc.On("GetBundleSettings", mock.Anything, "prod", "demo").Return(map[string]map[string]any{
		"core": {"tools": map[string]any{"creator": map[string]any{
			"product_name_profiles": []any{map[string]any{"template": "{product[type]}_{folder}{Variant}"}},
		}}},
	}, nil).Once()
	svc.On("GetBundleSettings", mock.Anything, "prod", "demo").Return(nil, errors.New("offline"))

	cfg := testConfig()
	cfg.Bundle = "prod"
	n := NewNodePublisher(svc, nil, cfg, nil, nil)
	target := OutputTarget{Project: "demo", FolderPath: "/shots/sh010", TaskName: "comp", ProductType: "render", Variant: "main"}

	assert.Equal(t, "render_sh010Main", n.ProductNamePrefix(context.Background(), target))
	assert.Equal(t, "renderMain", n.ProductNamePrefix(context.Background(), target))
}

const nodeWorkflow = `{
  "last_node_id": 12,
  "nodes": [
    {"id": 12, "type": "AYONPublisher", "pos": [0, 0], "size": [1, 1], "mode": 0, "properties": {},
     "widgets_values": ["/shots/sh010", "comp", "Main", "render", null, "OUTDIR"]}
  ],
  "links": []
}`

type fixedImage string

func (f fixedImage) Latest() (string, error) { return string(f), nil }

func TestPublishFromWorkflowDegradesToLocalSave(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "out")
	img := writeFiles(t, t.TempDir(), "ComfyUI_00007_.png")[0]

	g, err := graphapi.NewGraphFromJsonString(strings.Replace(nodeWorkflow, "OUTDIR", filepath.ToSlash(outDir), 1))
	require.NoError(t, err)

	svc := &ayontest.MockService{}
	svc.On("GetBundleSettings", mock.Anything, mock.Anything, "demo").Return(nil, errors.New("offline"))
	svc.On("GetFolderByPath", mock.Anything, "demo", "/shots/sh010").Return(nil, errors.New("offline"))

	cfg := testConfig()
	n := NewNodePublisher(svc, NewPublisher(svc, cfg, nil), cfg, fixedImage(img), logger.NewTestLogger(t))

	resp := n.PublishFromWorkflow(context.Background(), NodeRequest{NodeID: "12", Workflow: g})
	require.True(t, resp.Success, resp.Error)
	assert.Contains(t, resp.Output, "AYON publishing failed")
	assert.Equal(t, filepath.Join(outDir, "renderMain_00001.png"), resp.Path)
	assert.FileExists(t, resp.Path)
	assert.FileExists(t, filepath.Join(outDir, "renderMain_00001_workflow.json"))

	resp = n.PublishFromWorkflow(context.Background(), NodeRequest{NodeID: "12", Workflow: g})
	assert.Equal(t, "renderMain_00002.png", filepath.Base(resp.Path))

	resp = n.PublishFromWorkflow(context.Background(), NodeRequest{NodeID: "99", Workflow: g})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Node with ID 99 not found")
}
