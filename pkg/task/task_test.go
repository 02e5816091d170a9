package task

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	fields   map[string]string
	fileName string
	file     string
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, *captured) {
	t.Helper()

	got := &captured{fields: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, SubmitPath, r.URL.Path)

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		for k, v := range r.MultipartForm.Value {
			got.fields[k] = v[0]
		}
		f, hdr, err := r.FormFile("file")
		if assert.NoError(t, err) {
			defer f.Close()
			b, _ := io.ReadAll(f)
			got.file = string(b)
			got.fileName = hdr.Filename
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestSubmit(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{"task_id":"task-1","table_id":"t1","status":"accepted"}`)

	c := New(srv.URL, nil)
	res, err := c.Submit(context.Background(), Request{
		Type:     TypeExtract,
		ClientID: "client-1",
		TableID:  "t1",
		FileName: "receipt.png",
		File:     strings.NewReader("png-bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, &Response{TaskID: "task-1", TableID: "t1", Status: "accepted"}, res)

	assert.Equal(t, map[string]string{
		"task_type": "extract",
		"client_id": "client-1",
		"table_id":  "t1",
	}, got.fields)
	assert.Equal(t, "receipt.png", got.fileName)
	assert.Equal(t, "png-bytes", got.file)
}

func TestSubmitOmitsEmptyTableID(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{"task_id":"task-2","status":"accepted"}`)

	_, err := New(srv.URL, nil).Submit(context.Background(), Request{
		Type:     TypeAudio,
		ClientID: "client-1",
		File:     strings.NewReader("wav"),
	})
	require.NoError(t, err)
	assert.NotContains(t, got.fields, "table_id")
	assert.Equal(t, "upload", got.fileName)
}

func TestSubmitEnvelope(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK,
		`{"code":200,"message":"success","data":{"task_id":"task-3","table_id":"t9","status":"queued"},"trace_id":"x"}`)

	res, err := New(srv.URL, nil).Submit(context.Background(), Request{
		Type: TypeChat, ClientID: "c", File: strings.NewReader("hi"),
	})
	require.NoError(t, err)
	assert.Equal(t, "task-3", res.TaskID)
	assert.Equal(t, "t9", res.TableID)
	assert.Equal(t, "queued", res.Status)
}

func TestSubmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   SubmitError
	}{
		{
			name:   "http status",
			status: http.StatusBadRequest,
			body:   `{"message":"unsupported file"}`,
			want:   SubmitError{StatusCode: 400, Message: "unsupported file"},
		},
		{
			name:   "plain text body",
			status: http.StatusBadGateway,
			body:   "upstream down\n",
			want:   SubmitError{StatusCode: 502, Message: "upstream down"},
		},
		{
			name:   "envelope code",
			status: http.StatusOK,
			body:   `{"code":4002,"message":"bad image","data":null}`,
			want:   SubmitError{StatusCode: 200, Code: 4002, Message: "bad image"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, tt.status, tt.body)

			_, err := New(srv.URL, nil).Submit(context.Background(), Request{
				Type: TypeExtract, ClientID: "c", File: strings.NewReader("x"),
			})
			var se *SubmitError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.want, *se)
		})
	}
}

func TestSubmitValidation(t *testing.T) {
	_, err := New("", nil).Submit(context.Background(), Request{Type: TypeExtract, File: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrNoBaseURL)

	_, err = New("http://localhost", nil).Submit(context.Background(), Request{Type: "video", File: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrInvalidType)

	_, err = New("http://localhost", nil).Submit(context.Background(), Request{Type: TypeExtract})
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestSubmitTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, nil)
	c.Timeout = 50 * time.Millisecond

	_, err := c.Submit(context.Background(), Request{
		Type: TypeExtract, ClientID: "c", File: strings.NewReader("x"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
