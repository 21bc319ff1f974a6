package comfy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/richinsley/comfy2ayon/graphapi"
)

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// GetPngMetadata returns the tEXt chunks of a PNG keyed by keyword. ComfyUI stores
// the UI workflow under "workflow" and the API prompt under "prompt".
func GetPngMetadata(r io.Reader) (map[string]string, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, pngSignature) {
		return nil, errors.New("not a valid PNG file")
	}

	txtChunks := make(map[string]string)
	for {
		var length uint32
		err := binary.Read(r, binary.BigEndian, &length)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		chunkType := make([]byte, 4)
		if _, err = io.ReadFull(r, chunkType); err != nil {
			return nil, err
		}

		switch string(chunkType) {
		case "tEXt":
			chunkData := make([]byte, length)
			if _, err = io.ReadFull(r, chunkData); err != nil {
				return nil, err
			}
			keywordEnd := bytes.IndexByte(chunkData, 0)
			if keywordEnd == -1 {
				return nil, errors.New("malformed tEXt chunk")
			}
			txtChunks[string(chunkData[:keywordEnd])] = string(chunkData[keywordEnd+1:])
		default:
			if _, err = io.CopyN(io.Discard, r, int64(length)); err != nil {
				return nil, err
			}
		}

		// Skip the CRC
		if _, err = io.CopyN(io.Discard, r, 4); err != nil {
			return nil, err
		}
		if string(chunkType) == "IEND" {
			break
		}
	}
	return txtChunks, nil
}

// WorkflowFromPNG recovers the UI workflow embedded in a ComfyUI output image.
func WorkflowFromPNG(r io.Reader) (*graphapi.Graph, error) {
	metadata, err := GetPngMetadata(r)
	if err != nil {
		return nil, err
	}
	workflow, ok := metadata["workflow"]
	if !ok {
		return nil, errors.New("png does not contain workflow metadata")
	}
	return graphapi.NewGraphFromJsonReader(strings.NewReader(workflow))
}

// PromptFromPNG recovers the API prompt embedded in a ComfyUI output image.
func PromptFromPNG(path string) (*graphapi.Prompt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	metadata, err := GetPngMetadata(f)
	if err != nil {
		return nil, err
	}
	prompt, ok := metadata["prompt"]
	if !ok {
		return nil, errors.New("png does not contain prompt metadata")
	}
	return graphapi.LoadPrompt(strings.NewReader(prompt))
}
