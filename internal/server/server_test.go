package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"vrac/internal/auth"
	"vrac/internal/blobstore"
	"vrac/internal/models"
	"vrac/internal/store"
	"vrac/internal/sweep"
)

const (
	testAdminUser     = "admin"
	testAdminPassword = "correct-horse-battery"
)

type testEnv struct {
	store   *store.Store
	backend *blobstore.Local
	server  *Server
	ts      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	backend, err := blobstore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backends := map[string]blobstore.Backend{backend.Kind(): backend}
	srv := New(Options{
		Addr:     "127.0.0.1:0",
		Store:    st,
		Backend:  backend,
		Backends: backends,
		Sweeper:  sweep.New(st, backends, logger),
		Logger:   logger,
	})

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	hash, err := auth.HashPassword(testAdminPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if _, err := st.CreateAdminUser(context.Background(), testAdminUser, hash, time.Now().UTC()); err != nil {
		t.Fatalf("create admin: %v", err)
	}

	return &testEnv{store: st, backend: backend, server: srv, ts: ts}
}

func (e *testEnv) createToken(t *testing.T, spec store.TokenSpec) *models.Token {
	t.Helper()
	token, err := e.store.CreateToken(context.Background(), spec, time.Now().UTC())
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	return token
}

// multipartBody builds a multipart form with one file part per entry.
func multipartBody(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for name, content := range files {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return body, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, path string, files map[string][]byte) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, files)
	resp, err := http.Post(e.ts.URL+"/f/"+path, contentType, body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func (e *testEnv) adminRequest(t *testing.T, method, path string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.SetBasicAuth(testAdminUser, testAdminPassword)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Get(e.ts.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
