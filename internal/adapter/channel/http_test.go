package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avatarbot/internal/domain"
	"avatarbot/internal/infra/config"
)

func newTestHTTPServer(t *testing.T, h domain.Handler, cfg config.HTTPPlatformConfig) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch := NewHTTPChannel(cfg, newTestLogger())
	srv := httptest.NewServer(ch.Handler(ctx, h))
	t.Cleanup(srv.Close)
	return srv
}

func postChat(t *testing.T, url string, body any) (int, chatResponse) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url+"/api/v1/chat", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var cr chatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cr))
	return resp.StatusCode, cr
}

func TestHTTPChatText(t *testing.T) {
	h := &fakeHandler{}
	srv := newTestHTTPServer(t, h, config.HTTPPlatformConfig{})

	status, cr := postChat(t, srv.URL, map[string]any{
		"session_id": "s1",
		"user_id":    "u1",
		"content":    "World",
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "s1", cr.SessionID)
	assert.Equal(t, "echo:World", cr.Content)
	assert.Empty(t, cr.Error)

	calls := h.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "u1", *calls[0].UserID)
	assert.Equal(t, domain.ModalityText, calls[0].Input.Kind())
}

func TestHTTPChatGeneratesSessionID(t *testing.T) {
	h := &fakeHandler{}
	srv := newTestHTTPServer(t, h, config.HTTPPlatformConfig{})

	_, first := postChat(t, srv.URL, map[string]any{"content": "a"})
	_, second := postChat(t, srv.URL, map[string]any{"content": "b"})

	assert.True(t, strings.HasPrefix(first.SessionID, "http-"))
	assert.Len(t, first.SessionID, len("http-")+26)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Nil(t, h.Calls()[0].UserID)
}

func TestHTTPChatModalities(t *testing.T) {
	h := &fakeHandler{reply: func(_ string, in domain.Input) (string, error) {
		switch in.Kind() {
		case domain.ModalityAudio:
			return fmt.Sprintf("audio:%d", len(in.Audio())), nil
		default:
			return string(in.Kind()) + ":" + in.Ref(), nil
		}
	}}
	srv := newTestHTTPServer(t, h, config.HTTPPlatformConfig{})

	_, cr := postChat(t, srv.URL, map[string]any{"type": "image", "content": "http://x/cat.png"})
	assert.Equal(t, "image:http://x/cat.png", cr.Content)

	_, cr = postChat(t, srv.URL, map[string]any{"type": "video", "content": "http://x/v.mp4"})
	assert.Equal(t, "video:http://x/v.mp4", cr.Content)

	_, cr = postChat(t, srv.URL, map[string]any{
		"type":    "audio",
		"content": base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}),
	})
	assert.Equal(t, "audio:4", cr.Content)
}

func TestHTTPChatBadRequests(t *testing.T) {
	h := &fakeHandler{}
	srv := newTestHTTPServer(t, h, config.HTTPPlatformConfig{})

	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing content", map[string]any{"session_id": "s"}, "content is required"},
		{"unknown type", map[string]any{"type": "smell", "content": "x"}, "unknown modality"},
		{"bad audio", map[string]any{"type": "audio", "content": "%%%"}, "base64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, cr := postChat(t, srv.URL, tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Contains(t, cr.Error, tt.want)
			assert.Equal(t, string(domain.CodeInvalidInput), cr.Code)
		})
	}
	assert.Empty(t, h.Calls())
}

func TestHTTPChatInvalidJSON(t *testing.T) {
	srv := newTestHTTPServer(t, &fakeHandler{}, config.HTTPPlatformConfig{})

	resp, err := http.Post(srv.URL+"/api/v1/chat", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var cr chatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cr))
	assert.Contains(t, cr.Error, "invalid JSON")
}

func TestHTTPChatBackendError(t *testing.T) {
	h := &fakeHandler{reply: func(string, domain.Input) (string, error) {
		return "", domain.WrapOp("bot.chat", domain.ErrRateLimit)
	}}
	srv := newTestHTTPServer(t, h, config.HTTPPlatformConfig{})

	status, cr := postChat(t, srv.URL, map[string]any{"session_id": "s", "content": "x"})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "s", cr.SessionID)
	assert.Contains(t, cr.Error, "rate limit exceeded")
	assert.Equal(t, string(domain.CodeRateLimit), cr.Code)
}

func TestHTTPMethodNotAllowed(t *testing.T) {
	srv := newTestHTTPServer(t, &fakeHandler{}, config.HTTPPlatformConfig{})

	resp, err := http.Get(srv.URL + "/api/v1/chat")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPHealth(t *testing.T) {
	srv := newTestHTTPServer(t, &fakeHandler{}, config.HTTPPlatformConfig{})

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestHTTPRateLimit(t *testing.T) {
	srv := newTestHTTPServer(t, &fakeHandler{}, config.HTTPPlatformConfig{RateLimit: 60, RateLimitBurst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/api/v1/health")
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestHTTPChannelRun(t *testing.T) {
	ch := NewHTTPChannel(config.HTTPPlatformConfig{Addr: "127.0.0.1:0"}, newTestLogger())
	assert.Equal(t, "http", ch.Name())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx, &fakeHandler{}) }()

	addr := ch.BoundAddr()
	require.NotEmpty(t, addr)
	status, cr := postChat(t, "http://"+addr, map[string]any{"session_id": "s", "content": "ping"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "echo:ping", cr.Content)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestHTTPChannelRunListenError(t *testing.T) {
	ch := NewHTTPChannel(config.HTTPPlatformConfig{Addr: "256.0.0.1:bad"}, newTestLogger())
	err := ch.Run(context.Background(), &fakeHandler{})
	assert.ErrorContains(t, err, "listen")
	assert.Empty(t, ch.BoundAddr())
}
