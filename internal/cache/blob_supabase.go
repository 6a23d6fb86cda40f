package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SupabaseBlobStore stores artifacts in a Supabase storage bucket, keyed by
// content hash. References are bucket-relative object paths.
type SupabaseBlobStore struct {
	baseURL    string
	serviceKey string
	bucket     string
	httpClient *http.Client
}

func NewSupabaseBlobStore(supabaseURL, serviceKey, bucket string) *SupabaseBlobStore {
	return &SupabaseBlobStore{
		baseURL:    supabaseURL + "/storage/v1",
		serviceKey: serviceKey,
		bucket:     bucket,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (s *SupabaseBlobStore) objectURL(ref string) string {
	return fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, ref)
}

func (s *SupabaseBlobStore) Upload(ctx context.Context, hash string, data []byte, contentType string) (string, error) {
	ref := hash + extFor(contentType)

	req, err := http.NewRequestWithContext(ctx, "POST", s.objectURL(ref), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload blob: %w", err)
	}
	defer resp.Body.Close()

	// 409 means the object already exists; content-addressed writes make
	// that equivalent to success.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusConflict {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed (%d): %s", resp.StatusCode, string(body))
	}
	return ref, nil
}

func (s *SupabaseBlobStore) Download(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.objectURL(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("download failed (%d)", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *SupabaseBlobStore) Exists(ctx context.Context, ref string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, "HEAD", s.objectURL(ref), nil)
	if err != nil {
		return false, fmt.Errorf("create head request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("head blob: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("head failed (%d)", resp.StatusCode)
	}
	return true, nil
}

func (s *SupabaseBlobStore) Delete(ctx context.Context, ref string) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", s.objectURL(ref), nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete failed (%d)", resp.StatusCode)
	}
	return nil
}
