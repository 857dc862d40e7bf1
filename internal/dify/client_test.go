package dify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(baseURL string) *Client {
	return New(func() Settings {
		return Settings{BaseURL: baseURL, APIKey: "default-key", Timeout: 5 * time.Second}
	})
}

func TestCompleteBlocking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat-messages" {
			t.Errorf("path = %s, want /chat-messages", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer app-token" {
			t.Errorf("Authorization = %q, want the agent app token", got)
		}

		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["response_mode"] != "blocking" {
			t.Errorf("response_mode = %v, want blocking", body["response_mode"])
		}
		if body["conversation_id"] != "prior-thread" {
			t.Errorf("conversation_id = %v, want prior-thread", body["conversation_id"])
		}

		json.NewEncoder(w).Encode(ChatResult{
			ConversationID: "prior-thread",
			MessageID:      "m1",
			Answer:         "四十二",
		})
	}))
	defer srv.Close()

	result, err := testClient(srv.URL).Complete(context.Background(), CompleteRequest{
		Query:          "meaning of life",
		UserID:         "u1",
		ConversationID: "prior-thread",
		AppToken:       "app-token",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.Answer != "四十二" || result.ConversationID != "prior-thread" {
		t.Errorf("result = %+v", result)
	}
}

func TestCompleteFallsBackToDefaultKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer default-key" {
			t.Errorf("Authorization = %q, want the default key", got)
		}
		json.NewEncoder(w).Encode(ChatResult{Answer: "ok"})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), CompleteRequest{Query: "q", UserID: "u"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestCompleteConfigIncomplete(t *testing.T) {
	client := New(func() Settings { return Settings{} })
	_, err := client.Complete(context.Background(), CompleteRequest{Query: "q", UserID: "u"})
	if !errors.Is(err, ErrConfigIncomplete) {
		t.Fatalf("err = %v, want ErrConfigIncomplete", err)
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "quota_exceeded",
			"message": "insufficient credit",
		})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), CompleteRequest{Query: "q", UserID: "u"})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("err = %T, want *UpstreamError", err)
	}
	if upstream.Status != 402 || upstream.Code != "quota_exceeded" || upstream.Message != "insufficient credit" {
		t.Errorf("upstream = %+v", upstream)
	}
}

func TestCompleteUpstreamErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), CompleteRequest{Query: "q", UserID: "u"})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("err = %T, want *UpstreamError", err)
	}
	if upstream.Status != 500 || upstream.Message == "" {
		t.Errorf("upstream = %+v, want a fallback message", upstream)
	}
}

func TestCompleteTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := testClient(srv.URL).Complete(context.Background(), CompleteRequest{Query: "q", UserID: "u"})

	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("err = %T, want *TransportError", err)
	}
}

func TestCompleteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	client := New(func() Settings {
		return Settings{BaseURL: srv.URL, APIKey: "k", Timeout: 50 * time.Millisecond}
	})
	_, err := client.Complete(context.Background(), CompleteRequest{Query: "q", UserID: "u"})

	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("err = %T, want *TransportError for a timeout", err)
	}
}

func TestCompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["response_mode"] != "streaming" {
			t.Errorf("response_mode = %v, want streaming", body["response_mode"])
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"event\":\"message\",\"answer\":\"你\",\"conversation_id\":\"c9\"}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message\",\"answer\":\"好\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message_end\",\"message_id\":\"m9\"}\n\n")
	}))
	defer srv.Close()

	var chunks []string
	result, err := testClient(srv.URL).CompleteStream(context.Background(),
		CompleteRequest{Query: "hi", UserID: "u"},
		func(c StreamChunk) { chunks = append(chunks, c.Answer) })
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}

	if result.Answer != "你好" {
		t.Errorf("Answer = %q, want 你好", result.Answer)
	}
	if result.ConversationID != "c9" || result.MessageID != "m9" {
		t.Errorf("result ids = %+v", result)
	}
	if len(chunks) != 2 || chunks[0] != "你" || chunks[1] != "好" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestCompleteStreamUpstreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"event\":\"error\",\"answer\":\"model overloaded\"}\n\n")
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).CompleteStream(context.Background(),
		CompleteRequest{Query: "hi", UserID: "u"}, nil)

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("err = %T, want *UpstreamError", err)
	}
}
