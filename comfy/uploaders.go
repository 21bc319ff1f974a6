package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/richinsley/comfy2ayon/errdefs"
)

type ImageType string

const (
	InputImageType  ImageType = "input"
	TempImageType   ImageType = "temp"
	OutputImageType ImageType = "output"
)

// UploadFileFromReader uploads to /upload/image and returns the name the server chose,
// which may differ from filename.
func (c *ComfyClient) UploadFileFromReader(ctx context.Context, r io.Reader, filename string, overwrite bool, filetype ImageType, subfolder string) (string, error) {
	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	formFile, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(formFile, r); err != nil {
		return "", errdefs.IO("comfy upload", err, "reading %s", filename)
	}

	_ = writer.WriteField("overwrite", fmt.Sprintf("%v", overwrite))
	_ = writer.WriteField("type", string(filetype))
	if subfolder != "" {
		_ = writer.WriteField("subfolder", subfolder)
	}
	writer.Close()

	raw, err := c.do(ctx, http.MethodPost, "/upload/image", nil, &requestBody, writer.FormDataContentType())
	if err != nil {
		return "", err
	}

	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", errdefs.Service("comfy upload", err, "decoding response")
	}
	name, ok := data["name"].(string)
	if !ok {
		return "", errdefs.Service("comfy upload", nil, "invalid response format")
	}
	return name, nil
}

func (c *ComfyClient) UploadFileFromPath(ctx context.Context, filePath string, overwrite bool, filetype ImageType, subfolder string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", errdefs.IO("comfy upload", err, "opening %s", filePath)
	}
	defer file.Close()

	return c.UploadFileFromReader(ctx, file, filepath.Base(filePath), overwrite, filetype, subfolder)
}
