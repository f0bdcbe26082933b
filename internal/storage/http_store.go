package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

// HTTPStore reads inputs and publishes outputs through the simple-content HTTP API
type HTTPStore struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPStore creates a store for the simple-content API at baseURL
func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

type contentDetails struct {
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
}

// Open fetches the content's details and then opens its download stream
func (s *HTTPStore) Open(ctx context.Context, contentID string) (*Object, error) {
	var details contentDetails
	if err := s.getJSON(ctx, fmt.Sprintf("%s/api/v1/contents/%s/details", s.baseURL, contentID), &details); err != nil {
		return nil, fmt.Errorf("failed to get content details: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/contents/%s/download", s.baseURL, contentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download content: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	return &Object{
		ReadCloser:  resp.Body,
		ContentType: details.MimeType,
		Size:        details.FileSize,
	}, nil
}

func (s *HTTPStore) getJSON(ctx context.Context, url string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// Publish posts one output as derived content of its parent
func (s *HTTPStore) Publish(ctx context.Context, out Output) (string, error) {
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read output: %w", err)
	}

	jsonData, err := json.Marshal(map[string]interface{}{
		"parent_id":        out.ParentID,
		"derivation_type":  pipeline.DerivedTypeBecomeImage,
		"variant":          out.Variant(),
		"file_name":        out.fileName(),
		"tags":             out.Tags(),
		"content_data":     base64.StdEncoding.EncodeToString(data),
		"content_encoding": "base64",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/contents/%s/derived", s.baseURL, out.ParentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to create derived content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create derived failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("no ID in response")
	}

	return result.ID, nil
}
