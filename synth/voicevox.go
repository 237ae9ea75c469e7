package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBody = 512

// VoicevoxClient calls a VOICEVOX engine: /audio_query builds the prosody
// query, /synthesis renders it to WAV.
type VoicevoxClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewVoicevoxClient creates a client for host, which may omit the scheme.
func NewVoicevoxClient(host string, timeout time.Duration) *VoicevoxClient {
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &VoicevoxClient{
		baseURL:    strings.TrimRight(host, "/"),
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// Synthesize implements Client.
func (c *VoicevoxClient) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query, err := c.audioQuery(ctx, req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if req.Speed > 0 {
		query["speedScale"] = req.Speed
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("%w: encode audio query: %v", ErrBackend, err)
	}

	params := url.Values{"speaker": {req.Speaker}}
	wav, err := c.post(ctx, "/synthesis?"+params.Encode(), "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, classify(ctx, err)
	}
	return wav, nil
}

func (c *VoicevoxClient) audioQuery(ctx context.Context, req Request) (map[string]any, error) {
	params := url.Values{"speaker": {req.Speaker}, "text": {req.Text}}
	raw, err := c.post(ctx, "/audio_query?"+params.Encode(), "", nil)
	if err != nil {
		return nil, err
	}

	var query map[string]any
	if err := json.Unmarshal(raw, &query); err != nil {
		return nil, fmt.Errorf("%w: decode audio query: %v", ErrBackend, err)
	}
	return query, nil
}

// Version returns the engine version. It doubles as a health probe.
func (c *VoicevoxClient) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/version", nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackend, err)
	}
	raw, err := c.do(req)
	if err != nil {
		return "", classify(ctx, err)
	}

	var version string
	if err := json.Unmarshal(raw, &version); err != nil {
		return strings.TrimSpace(string(raw)), nil
	}
	return version, nil
}

func (c *VoicevoxClient) post(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.do(req)
}

func (c *VoicevoxClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: %s %s returned %d: %s",
			ErrBackend, req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return data, nil
}
