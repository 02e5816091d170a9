// Package task submits files to the agent's HTTP task endpoint.
//
// Submission is fire-and-forget from the store's point of view: the response
// only identifies the task, and every row it produces arrives later over the
// WebSocket session.
package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/buger/jsonparser"

	"github.com/formcanvas/sheetsync/internal/codec"
	"github.com/formcanvas/sheetsync/pkg/logger"
)

// SubmitPath is the task endpoint relative to the base URL.
const SubmitPath = "/task/submit"

// DefaultTimeout bounds a submission independently of the WebSocket session.
const DefaultTimeout = 120 * time.Second

type Type string

const (
	TypeExtract Type = "extract"
	TypeAudio   Type = "audio"
	TypeChat    Type = "chat"
)

func (t Type) Valid() bool {
	switch t {
	case TypeExtract, TypeAudio, TypeChat:
		return true
	}
	return false
}

var (
	ErrNoBaseURL   = errors.New("task: no base URL configured")
	ErrInvalidType = errors.New("task: invalid task type")
	ErrNoFile      = errors.New("task: no file to upload")
)

// SubmitError is returned when the server rejects a submission, either with a
// non-2xx status or with a non-success code in the response envelope.
type SubmitError struct {
	StatusCode int
	Code       int64
	Message    string
}

func (e *SubmitError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("task: submit failed (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("task: submit failed (status %d): %s", e.StatusCode, e.Message)
}

type Request struct {
	Type     Type
	ClientID string
	// TableID is optional. When set, rows stream into that table.
	TableID  string
	FileName string
	File     io.Reader
}

type Response struct {
	TaskID  string `json:"task_id"`
	TableID string `json:"table_id"`
	Status  string `json:"status"`
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration

	logger logger.Logger
}

func New(baseURL string, log logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: http.DefaultClient,
		Timeout:    DefaultTimeout,
		logger:     log,
	}
}

// Submit uploads req.File as a multipart form and returns the accepted task.
func (c *Client) Submit(ctx context.Context, req Request) (*Response, error) {
	if c.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, req.Type)
	}
	if req.File == nil {
		return nil, ErrNoFile
	}

	endpoint, err := url.JoinPath(c.BaseURL, SubmitPath)
	if err != nil {
		return nil, fmt.Errorf("task: invalid base URL %q: %w", c.BaseURL, err)
	}

	body, contentType, err := encodeForm(req)
	if err != nil {
		return nil, err
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug("task: submitting", "type", req.Type, "table_id", req.TableID, "file", req.FileName)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("task: submit: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("task: read response: %w", err)
	}

	res, err := decodeResponse(resp.StatusCode, raw)
	if err != nil {
		return nil, err
	}
	c.logger.Info("task: submitted", "task_id", res.TaskID, "table_id", res.TableID, "status", res.Status)
	return res, nil
}

func encodeForm(req Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"task_type", string(req.Type)},
		{"client_id", req.ClientID},
	}
	if req.TableID != "" {
		fields = append(fields, [2]string{"table_id", req.TableID})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	name := req.FileName
	if name == "" {
		name = "upload"
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, req.File); err != nil {
		return nil, "", fmt.Errorf("task: read file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// decodeResponse accepts both a bare task object and the agent's
// {code, message, data} envelope.
func decodeResponse(status int, raw []byte) (*Response, error) {
	message, _ := jsonparser.GetString(raw, "message")
	if status < 200 || status > 299 {
		if message == "" {
			message = strings.TrimSpace(string(raw))
		}
		if message == "" {
			message = http.StatusText(status)
		}
		code, _ := jsonparser.GetInt(raw, "code")
		return nil, &SubmitError{StatusCode: status, Code: code, Message: message}
	}

	if code, err := jsonparser.GetInt(raw, "code"); err == nil && code != 0 && code != http.StatusOK {
		return nil, &SubmitError{StatusCode: status, Code: code, Message: message}
	}

	payload := raw
	if data, typ, _, err := jsonparser.Get(raw, "data"); err == nil && typ == jsonparser.Object {
		payload = data
	}

	var res Response
	if err := codec.New().Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("task: decode response: %w", err)
	}
	if res.TaskID == "" {
		return nil, fmt.Errorf("task: response has no task_id: %s", raw)
	}
	return &res, nil
}
