package sequence

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestExtractFrameInfo(t *testing.T) {
	tests := []struct {
		path   string
		ok     bool
		prefix string
		frame  int
		pad    int
		suffix string
	}{
		{"shot.1001.png", true, "shot.", 1001, 4, ".png"},
		{"/out/ComfyUI_00012_.png", false, "", 0, 0, ""},
		{"/out/ComfyUI_00012.png", true, "ComfyUI_", 12, 5, ".png"},
		{"render.png", false, "", 0, 0, ""},
		{"v2/render_v003.exr", true, "render_v", 3, 3, ".exr"},
		{"0042.jpg", true, "", 42, 4, ".jpg"},
		{"noext12", true, "noext", 12, 2, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			info, ok := ExtractFrameInfo(tt.path)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.prefix, info.Prefix)
			assert.Equal(t, tt.frame, info.Frame)
			assert.Equal(t, tt.pad, info.Padding)
			assert.Equal(t, tt.suffix, info.Suffix)
		})
	}
}

func TestExtractFrameInfoOverflow(t *testing.T) {
	_, ok := ExtractFrameInfo("hash_" + strings.Repeat("9", 40) + ".png")
	assert.False(t, ok)
}

// Leading zeros never change the frame value. Because the digit count is not part of
// the key, differently padded names with the same prefix and suffix share one group.
func TestLeadingZerosShareFrameAndGroup(t *testing.T) {
	_, a, ok := FrameOf("shot.0007.png")
	require.True(t, ok)
	_, b, ok := FrameOf("shot.7.png")
	require.True(t, ok)
	assert.Equal(t, 7, a)
	assert.Equal(t, 7, b)

	groups := Detect([]string{"shot.0007.png", "shot.7.png", "shot.008.png"})
	require.Len(t, groups, 1)
	assert.Equal(t, "shot.##.png", groups[0].Pattern)
	assert.Equal(t, []int{7, 7, 8}, groups[0].Frames())
	// stable: equal frames keep input order
	assert.Equal(t, []string{"shot.0007.png", "shot.7.png", "shot.008.png"}, groups[0].Files)
}

func TestDetectSequence(t *testing.T) {
	groups := Detect([]string{"shot.1003.png", "shot.1001.png", "shot.1002.png"})
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Equal(t, "shot.##.png", g.Pattern)
	assert.True(t, g.IsSequence())
	assert.Equal(t, []string{"shot.1001.png", "shot.1002.png", "shot.1003.png"}, g.Files)
	assert.Equal(t, []int{1001, 1002, 1003}, g.Frames())

	start, end, ok := g.FrameRange()
	require.True(t, ok)
	assert.Equal(t, 1001, start)
	assert.Equal(t, 1003, end)
	assert.Equal(t, "shot", g.Label())
}

func TestDetectStandalone(t *testing.T) {
	groups := Detect([]string{"render.png"})
	require.Len(t, groups, 1)
	assert.False(t, groups[0].IsSequence())
	assert.Equal(t, "render.png", groups[0].Pattern)
	assert.Equal(t, "render", groups[0].Label())
	_, _, ok := groups[0].FrameRange()
	assert.False(t, ok)
}

func TestDetectSingleNumberedFileIsStandalone(t *testing.T) {
	groups := Detect([]string{"out/image_00001.png", "out/workflow.json"})
	require.Len(t, groups, 2)
	for _, g := range groups {
		assert.False(t, g.IsSequence())
	}
	assert.Equal(t, "image", groups[0].Label())
	assert.Equal(t, "workflow", groups[1].Label())
}

func TestDetectNonMatchesNeverMerge(t *testing.T) {
	groups := Detect([]string{"a/render.png", "b/render.png", "a/render.png"})
	require.Len(t, groups, 3)
	for _, g := range groups {
		assert.Len(t, g.Files, 1)
	}
}

func TestDetectSeparatesDirectories(t *testing.T) {
	groups := Detect([]string{"a/f.1.png", "b/f.2.png", "a/f.3.png"})
	require.Len(t, groups, 2)
	assert.Equal(t, filepath.Join("a", "f.##.png"), groups[0].Pattern)
	assert.Equal(t, []string{"a/f.1.png", "a/f.3.png"}, groups[0].Files)
	assert.False(t, groups[1].IsSequence())
}

func TestDetectEmpty(t *testing.T) {
	assert.Empty(t, Detect(nil))
}

func TestLabelFallsBackToExtension(t *testing.T) {
	g := Detect([]string{"0001.exr", "0002.exr"})[0]
	assert.Equal(t, "exr", g.Label())
}

func fileNames() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		prefix := rapid.SampledFrom([]string{"shot.", "render_", "beauty-", "img", ""}).Draw(t, "prefix")
		ext := rapid.SampledFrom([]string{".png", ".exr", ".json"}).Draw(t, "ext")
		if rapid.Bool().Draw(t, "numbered") {
			frame := rapid.IntRange(0, 2000).Draw(t, "frame")
			pad := rapid.IntRange(1, 5).Draw(t, "pad")
			return fmt.Sprintf("%s%0*d%s", prefix, pad, frame, ext)
		}
		return prefix + "plain" + ext
	})
}

func TestDetectPartitionsInput(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		paths := rapid.SliceOf(fileNames()).Draw(rt, "paths")
		groups := Detect(paths)

		var got []string
		for _, g := range groups {
			if len(g.Files) == 0 {
				rt.Fatalf("empty group %q", g.Pattern)
			}
			if len(g.Files) == 1 && g.IsSequence() {
				rt.Fatalf("single member group %q marked as sequence", g.Pattern)
			}
			got = append(got, g.Files...)
		}
		want := append([]string(nil), paths...)
		sort.Strings(got)
		sort.Strings(want)
		require.Equal(rt, want, got)
	})
}

func TestDetectIsIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		paths := rapid.SliceOf(fileNames()).Draw(rt, "paths")
		first := Detect(paths)
		second := Detect(paths)
		require.Equal(rt, first, second)
	})
}

func TestSequencesAreSortedByFrame(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		paths := rapid.SliceOf(fileNames()).Draw(rt, "paths")
		for _, g := range Detect(paths) {
			frames := g.Frames()
			if !sort.IntsAreSorted(frames) {
				rt.Fatalf("group %q not sorted: %v", g.Pattern, frames)
			}
		}
	})
}

func TestFrameIgnoresPadding(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		frame := rapid.IntRange(0, 99999).Draw(rt, "frame")
		pad := rapid.IntRange(1, 8).Draw(rt, "pad")
		_, got, ok := FrameOf(fmt.Sprintf("shot.%0*d.png", pad, frame))
		require.True(rt, ok)
		require.Equal(rt, frame, got)
	})
}
