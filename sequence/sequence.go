// Package sequence groups produced files into frame sequences and standalone files.
//
// A file belongs to a sequence when its base name, minus the extension, ends in a run
// of decimal digits. Files that share the text around that run (and the directory)
// form one group keyed "<prefix>##<suffix>". The digit count is not part of the key,
// so "foo.1.png" and "foo.001.png" fall into the same group and are ordered purely by
// their integer frame.
package sequence

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// FrameMarker stands in for the numeric field in a group's pattern.
const FrameMarker = "##"

var trailingDigits = regexp.MustCompile(`^(.*?)(\d+)$`)

// FrameInfo is the decomposition of one file name around its trailing frame number.
type FrameInfo struct {
	Dir     string
	Prefix  string
	Digits  string
	Frame   int
	Padding int
	Suffix  string
}

// Pattern returns the group key for the file.
func (f FrameInfo) Pattern() string {
	return filepath.Join(f.Dir, f.Prefix+FrameMarker+f.Suffix)
}

// ExtractFrameInfo splits path into prefix, frame and suffix. ok is false when no
// digits sit directly before the extension or the digit run does not fit an int.
func ExtractFrameInfo(path string) (FrameInfo, bool) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	m := trailingDigits.FindStringSubmatch(stem)
	if m == nil {
		return FrameInfo{}, false
	}
	frame, err := strconv.Atoi(m[2])
	if err != nil {
		return FrameInfo{}, false
	}
	return FrameInfo{
		Dir:     filepath.Dir(path),
		Prefix:  m[1],
		Digits:  m[2],
		Frame:   frame,
		Padding: len(m[2]),
		Suffix:  ext,
	}, true
}

// FrameOf returns the prefix and frame of path, discarding the suffix.
func FrameOf(path string) (prefix string, frame int, ok bool) {
	info, ok := ExtractFrameInfo(path)
	if !ok {
		return "", 0, false
	}
	return info.Prefix, info.Frame, true
}

// Group is a set of files sharing one pattern. Files of a sequence are ordered by
// ascending frame.
type Group struct {
	Pattern string
	Files   []string
	frames  []int
}

// IsSequence reports whether the group holds more than one file.
func (g Group) IsSequence() bool {
	return len(g.Files) > 1
}

// Frames returns the extracted frame of every member, nil for standalone files
// without a frame number.
func (g Group) Frames() []int {
	if g.frames == nil {
		return nil
	}
	out := make([]int, len(g.frames))
	copy(out, g.frames)
	return out
}

// FrameRange returns the lowest and highest frame across the group.
func (g Group) FrameRange() (start, end int, ok bool) {
	if len(g.frames) == 0 {
		return 0, 0, false
	}
	start, end = g.frames[0], g.frames[0]
	for _, f := range g.frames[1:] {
		if f < start {
			start = f
		}
		if f > end {
			end = f
		}
	}
	return start, end, true
}

// Label derives a representation label from the group's first member: the prefix
// with trailing separators removed, or the bare extension when nothing remains.
func (g Group) Label() string {
	if len(g.Files) == 0 {
		return ""
	}
	first := g.Files[0]
	ext := strings.TrimPrefix(filepath.Ext(first), ".")
	prefix, _, ok := FrameOf(first)
	if !ok {
		prefix = strings.TrimSuffix(filepath.Base(first), filepath.Ext(first))
	}
	label := strings.TrimRight(prefix, "._- ")
	if label == "" {
		return ext
	}
	return label
}

// Detect partitions paths into groups. Groups appear in the order their first member
// appears in paths. Files without a frame number are never merged with anything.
func Detect(paths []string) []Group {
	groups := make([]Group, 0, len(paths))
	byPattern := make(map[string]int)

	for _, p := range paths {
		info, ok := ExtractFrameInfo(p)
		if !ok {
			groups = append(groups, Group{Pattern: filepath.Base(p), Files: []string{p}})
			continue
		}
		key := info.Pattern()
		idx, seen := byPattern[key]
		if !seen {
			idx = len(groups)
			byPattern[key] = idx
			groups = append(groups, Group{Pattern: key})
		}
		groups[idx].Files = append(groups[idx].Files, p)
		groups[idx].frames = append(groups[idx].frames, info.Frame)
	}

	for i := range groups {
		if groups[i].IsSequence() {
			sort.Stable(byFrame{&groups[i]})
		}
	}
	return groups
}

type byFrame struct{ g *Group }

func (b byFrame) Len() int           { return len(b.g.Files) }
func (b byFrame) Less(i, j int) bool { return b.g.frames[i] < b.g.frames[j] }
func (b byFrame) Swap(i, j int) {
	b.g.Files[i], b.g.Files[j] = b.g.Files[j], b.g.Files[i]
	b.g.frames[i], b.g.frames[j] = b.g.frames[j], b.g.frames[i]
}
