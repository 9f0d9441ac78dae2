package mlpool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cmoscardi/textbook-tts/pkg/httpclient"
)

// Client talks to the external ML compute pool over HTTP. The pool parses
// PDFs and renders speech out of process; progress comes back as callbacks
// to our API, authenticated with the shared callback token.
type Client struct {
	BaseUrl         string
	CallbackBaseUrl string
	CallbackToken   string
}

func NewClient(baseURL, callbackBaseURL, callbackToken string) *Client {
	return &Client{
		BaseUrl:         baseURL,
		CallbackBaseUrl: callbackBaseURL,
		CallbackToken:   callbackToken,
	}
}

type parseRequest struct {
	JobId         string `json:"job_id"`
	FileId        string `json:"file_id"`
	DocumentUrl   string `json:"document_url"`
	CallbackUrl   string `json:"callback_url"`
	CallbackToken string `json:"callback_token"`
}

type convertRequest struct {
	JobId         string `json:"job_id"`
	FileId        string `json:"file_id"`
	Text          string `json:"text"`
	CallbackUrl   string `json:"callback_url"`
	CallbackToken string `json:"callback_token"`
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

// SubmitParse hands a document to the parser workers. documentURL is a
// time-limited signed URL for the raw upload.
func (c *Client) SubmitParse(ctx context.Context, jobID, fileID, documentURL string) error {
	req := parseRequest{
		JobId:         jobID,
		FileId:        fileID,
		DocumentUrl:   documentURL,
		CallbackUrl:   c.CallbackBaseUrl + "/internal/ml",
		CallbackToken: c.CallbackToken,
	}
	return c.post(ctx, "/parse", req)
}

// SubmitConvert hands the full parsed text to the TTS workers for the
// whole-document audio artifact.
func (c *Client) SubmitConvert(ctx context.Context, jobID, fileID, text string) error {
	req := convertRequest{
		JobId:         jobID,
		FileId:        fileID,
		Text:          text,
		CallbackUrl:   c.CallbackBaseUrl + "/internal/ml",
		CallbackToken: c.CallbackToken,
	}
	return c.post(ctx, "/convert", req)
}

// SynthesizeSentence renders one sentence synchronously and returns the
// audio bytes. Used by the playback cache, not the job pipeline.
func (c *Client) SynthesizeSentence(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(synthesizeRequest{Text: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseUrl+"/synthesize", bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpclient.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("synthesize failed: %s, %s", resp.Status, string(bodyBytes))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("synthesize returned empty audio")
	}
	return audio, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseUrl+path, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpclient.Client.Do(req)
	if err != nil {
		return fmt.Errorf("ml pool request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ml pool rejected %s: %s, %s", path, resp.Status, string(bodyBytes))
	}
	return nil
}
