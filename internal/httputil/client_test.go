package httputil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStandardClient_WrapsCustomClient(t *testing.T) {
	custom := &http.Client{}
	client := NewStandardClient(custom)

	if client.Client != custom {
		t.Error("expected custom client to be wrapped")
	}
}

func TestStandardClient_NilFallsBackToDefault(t *testing.T) {
	client := NewStandardClient(nil)

	if client.Client != http.DefaultClient {
		t.Error("nil client should wrap http.DefaultClient")
	}
}

func TestStandardClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("accepted"))
	}))
	defer server.Close()

	client := NewStandardClient(nil)
	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/chat", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "accepted" {
		t.Errorf("got body %q, want 'accepted'", string(body))
	}
}

func TestMockHTTPClient_ReplaysQueuedResponses(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, "first")
	mock.AddResponse(http.StatusTooManyRequests, "second")

	req, _ := http.NewRequest(http.MethodPost, "http://example.com/v1", nil)

	resp1, err := mock.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	body1, _ := io.ReadAll(resp1.Body)
	resp1.Body.Close()
	if resp1.StatusCode != http.StatusOK || string(body1) != "first" {
		t.Errorf("first response: got %d %q", resp1.StatusCode, string(body1))
	}

	resp2, err := mock.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second response: got status %d, want %d", resp2.StatusCode, http.StatusTooManyRequests)
	}
}

func TestMockHTTPClient_ExhaustedQueueAnswersEmptyOK(t *testing.T) {
	mock := NewMockHTTPClient()
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)

	resp, err := mock.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Errorf("got body %q, want empty", string(body))
	}
}

func TestMockHTTPClient_ErrorResponse(t *testing.T) {
	boom := errors.New("connection refused")
	mock := NewMockHTTPClient()
	mock.AddErrorResponse(boom)

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	_, err := mock.Do(req)

	if !errors.Is(err, boom) {
		t.Errorf("got error %v, want %v", err, boom)
	}
}

func TestMockHTTPClient_RecordsRequests(t *testing.T) {
	mock := NewMockHTTPClient()

	first, _ := http.NewRequest(http.MethodGet, "http://example.com/first", nil)
	second, _ := http.NewRequest(http.MethodPost, "http://example.com/second", nil)
	for _, req := range []*http.Request{first, second} {
		resp, err := mock.Do(req)
		if err != nil {
			t.Fatalf("Do failed: %v", err)
		}
		resp.Body.Close()
	}

	if mock.RequestCount() != 2 {
		t.Fatalf("got %d requests, want 2", mock.RequestCount())
	}
	if got := mock.GetRequest(0); got == nil || got.URL.Path != "/first" {
		t.Errorf("GetRequest(0) = %v, want request for /first", got)
	}
	if got := mock.GetRequest(1); got == nil || got.Method != http.MethodPost {
		t.Errorf("GetRequest(1) = %v, want POST request", got)
	}
	if mock.GetRequest(2) != nil {
		t.Error("out-of-range index should return nil")
	}
	if mock.GetRequest(-1) != nil {
		t.Error("negative index should return nil")
	}
}
