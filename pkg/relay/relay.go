package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/zepph7/christmas-surprise/pkg/logger"
	"github.com/zepph7/christmas-surprise/pkg/models"
	"github.com/zepph7/christmas-surprise/pkg/util"
)

const (
	EncodingForm = "form"
	EncodingJSON = "json"

	MessageSuccess = "Submission successful!"
	MessageFailed  = "Submission failed"
	MessageNetwork = "Network error"
)

// Client posts one submission per call to the form intake endpoint. It never retries.
type Client struct {
	endpoint string
	encoding string
	timeout  time.Duration
	meta     Metadata
	client   *http.Client
}

type Options struct {
	Endpoint string
	Encoding string
	Timeout  time.Duration
	Metadata Metadata
	// HTTPClient defaults to http.DefaultClient
	HTTPClient *http.Client
}

func NewClient(opts Options) *Client {
	c := &Client{
		endpoint: opts.Endpoint,
		encoding: opts.Encoding,
		timeout:  opts.Timeout,
		meta:     opts.Metadata,
		client:   opts.HTTPClient,
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	if c.encoding == "" {
		c.encoding = EncodingForm
	}
	return c
}

func encode(p Payload, encoding string) (io.Reader, string, error) {
	if encoding == EncodingJSON {
		body, err := json.Marshal(p.Map())
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal payload: %w", err)
		}
		return bytes.NewReader(body), "application/json", nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range p {
		if err := w.WriteField(f.Key, f.Value); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", f.Key, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// Submit sends s and reports the outcome. Errors are folded into the result.
func (c *Client) Submit(ctx context.Context, s models.Submission) models.SubmitResult {
	payload := BuildPayload(s, c.meta)
	body, contentType, err := encode(payload, c.encoding)
	if err != nil {
		logger.Error("Failed to encode submission: %v", err)
		return models.SubmitResult{Success: false, Message: MessageFailed}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		logger.Error("Failed to create relay request: %v", err)
		return models.SubmitResult{Success: false, Message: MessageNetwork}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.client.Do(req)
	if err != nil {
		logger.Warn("Relay request failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
		return models.SubmitResult{Success: false, Message: MessageNetwork}
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode <= 299 {
		logger.Info("Relayed submission (%s) in %s", s.Source, time.Since(start).Round(time.Millisecond))
		_, _ = io.Copy(io.Discard, res.Body)
		return models.SubmitResult{Success: true, Message: MessageSuccess, StatusCode: res.StatusCode}
	}

	msg := errorMessage(res)
	logger.Warn("Relay rejected submission with status %d: %s", res.StatusCode, msg)
	return models.SubmitResult{Success: false, Message: msg, StatusCode: res.StatusCode}
}

type errorResponse struct {
	Error  string `json:"error"`
	Errors []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
}

// errorMessage extracts a readable reason from a rejected response, falling back to MessageFailed.
func errorMessage(res *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return MessageFailed
	}

	mediaType, _, _ := mime.ParseMediaType(res.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json" || json.Valid(body):
		var payload errorResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			return MessageFailed
		}
		if payload.Error != "" {
			return payload.Error
		}
		var parts []string
		for _, e := range payload.Errors {
			if e.Message != "" {
				parts = append(parts, e.Message)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}

	case mediaType == "text/html":
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return MessageFailed
		}
		for _, sel := range []string{"h1", "h2", "title"} {
			if text := util.CollapseWhitespace(doc.Find(sel).First().Text()); text != "" {
				return text
			}
		}
	}
	return MessageFailed
}
