package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// echoPayments возвращает тело запроса обратно, как это делает обработчик
// платежей при успешном создании пожертвования.
func echoPayments(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func gzipCompress(t *testing.T, data string) io.Reader {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(data)); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return &buf
}

func gzipDecompress(t *testing.T, r io.Reader) string {
	t.Helper()

	zr, err := gzip.NewReader(r)
	if err != nil {
		t.Fatalf("new gzip reader: %v", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip body: %v", err)
	}
	return string(data)
}

func TestGzipMiddleware(t *testing.T) {
	const payment = `{"type":"one-time","donor":{"lastName":"Smith"},"amount":100,"currency":"CAD"}`

	tests := []struct {
		name         string
		body         string
		gzipRequest  bool
		acceptGzip   bool
		wantEncoding string
	}{
		{
			name:         "compresses response for gzip-capable client",
			body:         payment,
			acceptGzip:   true,
			wantEncoding: "gzip",
		},
		{
			name: "plain response for client without gzip",
			body: payment,
		},
		{
			name:         "decompresses gzipped request body",
			body:         payment,
			gzipRequest:  true,
			acceptGzip:   true,
			wantEncoding: "gzip",
		},
		{
			name:        "gzipped request, plain response",
			body:        payment,
			gzipRequest: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requestBody io.Reader = strings.NewReader(tt.body)
			if tt.gzipRequest {
				requestBody = gzipCompress(t, tt.body)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/payments", requestBody)
			req.Header.Set("Content-Type", "application/json")
			if tt.gzipRequest {
				req.Header.Set("Content-Encoding", "gzip")
			}
			if tt.acceptGzip {
				req.Header.Set("Accept-Encoding", "gzip")
			}

			rec := httptest.NewRecorder()
			GzipMiddleware(http.HandlerFunc(echoPayments)).ServeHTTP(rec, req)

			res := rec.Result()
			defer res.Body.Close()

			if res.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
			}
			if ct := res.Header.Get("Content-Type"); ct != "application/json" {
				t.Fatalf("content-type = %q, want application/json", ct)
			}
			if ce := res.Header.Get("Content-Encoding"); ce != tt.wantEncoding {
				t.Fatalf("content-encoding = %q, want %q", ce, tt.wantEncoding)
			}

			var body string
			if tt.wantEncoding == "gzip" {
				body = gzipDecompress(t, res.Body)
			} else {
				data, err := io.ReadAll(res.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				body = string(data)
			}

			if body != tt.body {
				t.Fatalf("body = %q, want %q", body, tt.body)
			}
		})
	}
}

func TestGzipMiddleware_BrokenGzipBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/payments", strings.NewReader("not gzip at all"))
	req.Header.Set("Content-Encoding", "gzip")

	rec := httptest.NewRecorder()
	GzipMiddleware(http.HandlerFunc(echoPayments)).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
