package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cmoscardi/textbook-tts/pkg/httpclient"
)

// Client issues time-limited access references against the Supabase storage
// REST API. Raw uploads and rendered audio artifacts live in the "files"
// bucket; the service role key bypasses row-level security, so this client
// must only run server-side.
type Client struct {
	BaseUrl   string
	SecretKey string
}

func NewClient(baseURL, secretKey string) *Client {
	return &Client{BaseUrl: baseURL, SecretKey: secretKey}
}

type signRequest struct {
	ExpiresIn int `json:"expiresIn"`
}

type signResponse struct {
	SignedURL string `json:"signedURL"`
}

// SignedURL returns a full URL granting expiresIn seconds of read access to
// an object.
func (c *Client) SignedURL(ctx context.Context, bucket, objectPath string, expiresIn int) (string, error) {
	payload, err := json.Marshal(signRequest{ExpiresIn: expiresIn})
	if err != nil {
		return "", err
	}

	fullURL := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", c.BaseUrl, bucket, objectPath)
	req, err := http.NewRequestWithContext(ctx, "POST", fullURL, bytes.NewBuffer(payload))
	if err != nil {
		return "", err
	}

	req.Header.Set("apikey", c.SecretKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.SecretKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpclient.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("sign failed: %s, %s", resp.Status, string(bodyBytes))
	}

	var signed signResponse
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return "", fmt.Errorf("parse sign response: %w", err)
	}
	if signed.SignedURL == "" {
		return "", fmt.Errorf("empty signed url for %s/%s", bucket, objectPath)
	}

	return c.BaseUrl + "/storage/v1" + signed.SignedURL, nil
}
