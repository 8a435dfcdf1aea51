package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubConverter struct {
	out   []byte
	err   error
	delay time.Duration
}

func (s *stubConverter) ConvertWAV(ctx context.Context, _, _ []byte) ([]byte, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.err != nil {
		return nil, s.err
	}

	return s.out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

// convertRequest builds a multipart POST /convert request with the given
// form file fields.
func convertRequest(t *testing.T, fields map[string][]byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for name, data := range fields {
		fw, err := mw.CreateFormFile(name, name+".wav")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}

		if _, err := fw.Write(data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}

	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/convert", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return req
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"Error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLogLevel(%q) = %v, nil; want error", tt.input, got)
			}

			continue
		}

		if err != nil {
			t.Errorf("ParseLogLevel(%q) unexpected error: %v", tt.input, err)
			continue
		}

		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v; want %v", tt.input, got, tt.want)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(&stubConverter{}, WithLogger(quietLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body["status"] != "ok" {
		t.Errorf("status field = %q; want %q", body["status"], "ok")
	}
}

func TestConvertHappyPath(t *testing.T) {
	want := []byte("RIFF-fake-wav")
	h := NewHandler(&stubConverter{out: want}, WithLogger(quietLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, convertRequest(t, map[string][]byte{
		"source": []byte("source-wav"),
		"prompt": []byte("prompt-wav"),
	}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200; body %s", rec.Code, rec.Body.String())
	}

	if got := rec.Header().Get("Content-Type"); got != "audio/wav" {
		t.Errorf("Content-Type = %q; want audio/wav", got)
	}

	if !bytes.Equal(rec.Body.Bytes(), want) {
		t.Errorf("body = %q; want %q", rec.Body.Bytes(), want)
	}
}

func TestConvertMissingPromptField(t *testing.T) {
	h := NewHandler(&stubConverter{}, WithLogger(quietLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, convertRequest(t, map[string][]byte{
		"source": []byte("source-wav"),
	}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rec.Code)
	}
}

func TestConvertMethodNotAllowed(t *testing.T) {
	h := NewHandler(&stubConverter{}, WithLogger(quietLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/convert", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d; want 405", rec.Code)
	}
}

func TestConvertRejectsOversizedUpload(t *testing.T) {
	h := NewHandler(&stubConverter{out: []byte("ok")},
		WithLogger(quietLogger()),
		WithMaxAudioBytes(8),
	)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, convertRequest(t, map[string][]byte{
		"source": bytes.Repeat([]byte("x"), 64),
		"prompt": []byte("small"),
	}))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d; want 413", rec.Code)
	}
}

func TestConvertConverterError(t *testing.T) {
	h := NewHandler(&stubConverter{err: context.DeadlineExceeded}, WithLogger(quietLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, convertRequest(t, map[string][]byte{
		"source": []byte("a"),
		"prompt": []byte("b"),
	}))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d; want 504", rec.Code)
	}
}

func TestConvertInternalError(t *testing.T) {
	h := NewHandler(&stubConverter{err: errTest}, WithLogger(quietLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, convertRequest(t, map[string][]byte{
		"source": []byte("a"),
		"prompt": []byte("b"),
	}))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body["error"] == "" {
		t.Error("error field is empty")
	}
}

func TestConvertRequestTimeout(t *testing.T) {
	h := NewHandler(&stubConverter{out: []byte("ok"), delay: time.Second},
		WithLogger(quietLogger()),
		WithRequestTimeout(10*time.Millisecond),
	)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, convertRequest(t, map[string][]byte{
		"source": []byte("a"),
		"prompt": []byte("b"),
	}))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d; want 504", rec.Code)
	}
}

var errTest = errors.New("conversion broke")
