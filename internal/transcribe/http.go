package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type publishResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		MediaId          string `json:"MediaId"`
		Status           string `json:"Status"`
		TranscriptionURL string `json:"TranscriptionURL"`
	} `json:"Data"`
	Reason string `json:"Reason,omitempty"`
}

type statusResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		Status               string `json:"Status"` // Success, Queued, Processing, Failed
		TranscriptionTextURL string `json:"TranscriptionTextURL"`
	} `json:"Data"`
	Reason string `json:"Reason,omitempty"`
}

// HTTPClient is the Backend for the hosted transcription API
// (POST /transcribe, GET /getstatus, then a text download).
type HTTPClient struct {
	host       string
	httpClient *http.Client

	// MaxElapsed bounds the retries of a submit. Status polls are tried once;
	// the caller's poll loop is the retry.
	MaxElapsed time.Duration
}

// NewHTTPClient creates a client for the API at host.
func NewHTTPClient(host string) *HTTPClient {
	return &HTTPClient{
		host:       strings.TrimRight(host, "/"),
		httpClient: &http.Client{Timeout: 12 * time.Second},
		MaxElapsed: 12 * time.Second,
	}
}

// Submit publishes objectURL and returns the backend media id.
func (c *HTTPClient) Submit(ctx context.Context, objectURL, language string) (string, error) {
	newReq := func() (*http.Request, error) {
		var b bytes.Buffer
		w := multipart.NewWriter(&b)
		_ = w.WriteField("callRecordingLink", objectURL)
		if language != "" {
			_ = w.WriteField("language", language)
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/transcribe", &b)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return req, nil
	}

	var resp publishResponse
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.MaxElapsed
	if err := c.doJSON(ctx, bo, newReq, &resp); err != nil {
		return "", fmt.Errorf("transcribe publish: %w", err)
	}
	if resp.Code != 0 && resp.Code != http.StatusOK {
		return "", fmt.Errorf("transcribe publish error: code=%d reason=%s", resp.Code, resp.Reason)
	}
	if resp.Data.MediaId == "" {
		return "", fmt.Errorf("transcribe publish: empty media id")
	}
	return resp.Data.MediaId, nil
}

// PollStatus fetches the job status and, once finished, downloads the text.
func (c *HTTPClient) PollStatus(ctx context.Context, jobHandle string) (JobStatus, error) {
	u, err := url.Parse(c.host + "/getstatus")
	if err != nil {
		return JobStatus{}, err
	}
	q := u.Query()
	q.Set("mediaId", jobHandle)
	u.RawQuery = q.Encode()

	newReq := func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	}

	var s statusResponse
	if err := c.doJSON(ctx, &backoff.StopBackOff{}, newReq, &s); err != nil {
		return JobStatus{}, fmt.Errorf("transcribe status: %w", err)
	}

	switch strings.ToLower(s.Data.Status) {
	case "success":
		text, err := c.download(ctx, s.Data.TranscriptionTextURL)
		if err != nil {
			return JobStatus{}, err
		}
		return JobStatus{Status: StatusCompleted, Text: text}, nil
	case "queued":
		return JobStatus{Status: StatusQueued}, nil
	case "processing":
		return JobStatus{Status: StatusProcessing}, nil
	case "failed":
		return JobStatus{Status: StatusError, Reason: s.Reason}, nil
	default:
		return JobStatus{}, fmt.Errorf("transcribe status: unknown status %q", s.Data.Status)
	}
}

func (c *HTTPClient) download(ctx context.Context, textURL string) (string, error) {
	if textURL == "" {
		return "", fmt.Errorf("transcribe download: empty transcript url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, textURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe download: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("transcribe download: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("transcribe download failed: %s", string(b))
	}
	return string(b), nil
}

// doJSON retries 5xx and transport errors as scheduled by bo.
// The request is rebuilt for every attempt so bodies are never reused.
func (c *HTTPClient) doJSON(ctx context.Context, bo backoff.BackOff, newReq func() (*http.Request, error), target any) error {
	var lastErr error
	op := func() error {
		req, err := newReq()
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: %s", string(body))
			return lastErr
		}
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
			return backoff.Permanent(lastErr)
		}
		if len(body) == 0 {
			lastErr = fmt.Errorf("empty body")
			return lastErr
		}
		if err := json.Unmarshal(body, target); err != nil {
			lastErr = fmt.Errorf("json decode error: %v body=%s", err, string(body))
			return backoff.Permanent(lastErr)
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
