package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
)

// RemoteBackend sends the image to an HTTP inference service that hosts the
// model and answers with the raw parallel arrays.
type RemoteBackend struct {
	inferenceURL string
	client       *http.Client
}

type remoteResponse struct {
	Boxes   [][4]float64 `json:"boxes"`
	Scores  []float64    `json:"scores"`
	Classes []int        `json:"classes"`
}

func NewRemote(inferenceURL string, client *http.Client) *RemoteBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &RemoteBackend{
		inferenceURL: inferenceURL,
		client:       client,
	}
}

func (b *RemoteBackend) Name() string {
	return "remote"
}

// Load checks that the inference service answers on its health endpoint,
// a sibling of the predict path.
func (b *RemoteBackend) Load(ctx context.Context) error {
	u, err := url.Parse(b.inferenceURL)
	if err != nil {
		return fmt.Errorf("invalid inference url: %w", err)
	}
	u.Path = path.Join(path.Dir(u.Path), "health")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (b *RemoteBackend) Infer(ctx context.Context, frame Frame, th Thresholds) (Output, error) {
	imageData, err := os.ReadFile(frame.Path)
	if err != nil {
		return Output{}, fmt.Errorf("read image: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(frame.Path))
	if err != nil {
		return Output{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return Output{}, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.WriteField("conf", strconv.FormatFloat(th.Confidence, 'f', -1, 64)); err != nil {
		return Output{}, err
	}
	if err := writer.WriteField("iou", strconv.FormatFloat(th.IoU, 'f', -1, 64)); err != nil {
		return Output{}, err
	}
	if err := writer.Close(); err != nil {
		return Output{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.inferenceURL, body)
	if err != nil {
		return Output{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.client.Do(req)
	if err != nil {
		return Output{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Output{}, fmt.Errorf("inference failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Output{}, fmt.Errorf("decode response: %w", err)
	}

	return Output{
		Boxes:    result.Boxes,
		Scores:   result.Scores,
		ClassIDs: result.Classes,
	}, nil
}

func (b *RemoteBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
