package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"avatarbot/internal/domain"
	"avatarbot/internal/infra/config"
)

const (
	oneBotReadLimit    = 1 << 20
	maxRecordDownload  = 10 << 20
	defaultOneBotWSURL = "ws://127.0.0.1:6700"
)

// oneBotEvent is the subset of a OneBot v11 event used here.
type oneBotEvent struct {
	PostType    string `json:"post_type"`
	MessageType string `json:"message_type"`
	SubType     string `json:"sub_type"`
	UserID      *int64 `json:"user_id"`
	GroupID     *int64 `json:"group_id"`
	RawMessage  string `json:"raw_message"`
}

type oneBotSendParams struct {
	MessageType string `json:"message_type"`
	UserID      *int64 `json:"user_id,omitempty"`
	GroupID     *int64 `json:"group_id,omitempty"`
	Message     string `json:"message"`
}

type oneBotAction struct {
	Action string           `json:"action"`
	Params oneBotSendParams `json:"params"`
}

// OneBot bridges a OneBot v11 forward websocket (go-cqhttp, NapCat, Lagrange)
// to the Handler. Events are answered concurrently across sessions and in
// arrival order within a session.
type OneBot struct {
	url         string
	accessToken string
	reconnect   time.Duration
	httpClient  *http.Client
	logger      *slog.Logger

	// tails holds, per session, a channel closed when the newest queued
	// event of that session has been handled.
	tailsMu sync.Mutex
	tails   map[string]chan struct{}
}

var _ domain.Platform = (*OneBot)(nil)

// NewOneBot creates a OneBot client. A zero Reconnect disables reconnection.
func NewOneBot(cfg config.OneBotPlatformConfig, logger *slog.Logger) *OneBot {
	if logger == nil {
		logger = slog.Default()
	}
	url := cfg.URL
	if url == "" {
		url = defaultOneBotWSURL
	}
	return &OneBot{
		url:         url,
		accessToken: cfg.AccessToken,
		reconnect:   cfg.Reconnect,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		tails:       make(map[string]chan struct{}),
	}
}

// Name implements domain.Platform.
func (o *OneBot) Name() string { return "onebot" }

// Run connects and serves events until ctx is cancelled. When the connection
// drops it redials after the reconnect delay, or returns the error if
// reconnection is disabled.
func (o *OneBot) Run(ctx context.Context, h domain.Handler) error {
	for {
		err := o.runOnce(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		if o.reconnect <= 0 {
			return err
		}
		o.logger.Warn("onebot connection lost, reconnecting", "error", err, "delay", o.reconnect)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(o.reconnect):
		}
	}
}

func (o *OneBot) runOnce(ctx context.Context, h domain.Handler) error {
	o.logger.Info("connecting to onebot", "url", o.url)

	var opts *websocket.DialOptions
	if o.accessToken != "" {
		opts = &websocket.DialOptions{HTTPHeader: http.Header{"Authorization": {"Bearer " + o.accessToken}}}
	}
	conn, _, err := websocket.Dial(ctx, o.url, opts)
	if err != nil {
		return fmt.Errorf("dial onebot %s: %w", o.url, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(oneBotReadLimit)
	o.logger.Info("connected to onebot")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return io.EOF
			}
			return fmt.Errorf("read onebot frame: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}

		var ev oneBotEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			o.logger.Debug("skipping malformed onebot frame", "error", err)
			continue
		}
		if ev.PostType != "message" {
			continue
		}

		var uid int64
		if ev.UserID != nil {
			uid = *ev.UserID
		}
		sessionID := oneBotSessionID(ev.GroupID, uid)
		prev, done := o.enqueue(sessionID)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer o.release(sessionID, done)
			if prev != nil {
				<-prev
			}
			o.handleEvent(ctx, conn, h, ev, sessionID, uid)
		}()
	}
}

// enqueue registers a new event for sessionID and returns the channel of the
// event before it (nil if none) and the channel to close when this one is done.
func (o *OneBot) enqueue(sessionID string) (prev, done chan struct{}) {
	done = make(chan struct{})
	o.tailsMu.Lock()
	prev = o.tails[sessionID]
	o.tails[sessionID] = done
	o.tailsMu.Unlock()
	return prev, done
}

func (o *OneBot) release(sessionID string, done chan struct{}) {
	close(done)
	o.tailsMu.Lock()
	if o.tails[sessionID] == done {
		delete(o.tails, sessionID)
	}
	o.tailsMu.Unlock()
}

func (o *OneBot) handleEvent(ctx context.Context, conn *websocket.Conn, h domain.Handler, ev oneBotEvent, sessionID string, uid int64) {
	o.logger.Info("onebot message received", "session", sessionID, "message", ev.RawMessage)

	input, err := o.inputFromMessage(ctx, ev.RawMessage)
	if err != nil {
		o.logger.Error("onebot media fetch failed", "session", sessionID, "error", err)
		return
	}

	reply, err := h.HandleMessage(ctx, sessionID, input, domain.StringPtr(strconv.FormatInt(uid, 10)))
	if err != nil {
		o.logger.Error("bot error", "session", sessionID, "error", err)
		return
	}

	if err := wsjson.Write(ctx, conn, oneBotReply(ev, uid, reply)); err != nil {
		o.logger.Error("onebot send failed", "session", sessionID, "error", err)
	}
}

func oneBotSessionID(groupID *int64, uid int64) string {
	if groupID != nil {
		return fmt.Sprintf("onebot:group:%d:%d", *groupID, uid)
	}
	return fmt.Sprintf("onebot:private:%d", uid)
}

func oneBotReply(ev oneBotEvent, uid int64, reply string) oneBotAction {
	msgType := ev.MessageType
	if msgType == "" {
		msgType = "private"
	}
	params := oneBotSendParams{MessageType: msgType, Message: reply}
	if ev.GroupID != nil {
		params.GroupID = ev.GroupID
	} else {
		params.UserID = &uid
	}
	return oneBotAction{Action: "send_msg", Params: params}
}

// inputFromMessage maps the first media CQ segment to an Input. Messages
// without media are passed through as text.
func (o *OneBot) inputFromMessage(ctx context.Context, raw string) (domain.Input, error) {
	for _, seg := range parseCQSegments(raw) {
		ref := seg.params["url"]
		if ref == "" {
			ref = seg.params["file"]
		}
		if ref == "" {
			continue
		}
		switch seg.kind {
		case "image":
			return domain.ImageInput(ref), nil
		case "video":
			return domain.VideoInput(ref), nil
		case "record":
			audio, err := o.download(ctx, ref)
			if err != nil {
				return domain.Input{}, err
			}
			return domain.AudioInput(audio), nil
		}
	}
	return domain.TextInput(raw), nil
}

func (o *OneBot) download(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("record %q is not a URL", url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download record: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download record: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordDownload+1))
	if err != nil {
		return nil, fmt.Errorf("download record: %w", err)
	}
	if len(data) > maxRecordDownload {
		return nil, errors.New("download record: file too large")
	}
	return data, nil
}

// cqSegment is one "[CQ:type,key=value,...]" code.
type cqSegment struct {
	kind   string
	params map[string]string
}

var cqUnescaper = strings.NewReplacer("&#44;", ",", "&#91;", "[", "&#93;", "]", "&amp;", "&")

func parseCQSegments(raw string) []cqSegment {
	var segs []cqSegment
	for {
		start := strings.Index(raw, "[CQ:")
		if start < 0 {
			return segs
		}
		end := strings.IndexByte(raw[start:], ']')
		if end < 0 {
			return segs
		}
		body := raw[start+len("[CQ:") : start+end]
		raw = raw[start+end+1:]

		fields := strings.Split(body, ",")
		seg := cqSegment{kind: fields[0], params: make(map[string]string, len(fields)-1)}
		for _, f := range fields[1:] {
			k, v, ok := strings.Cut(f, "=")
			if ok {
				seg.params[k] = cqUnescaper.Replace(v)
			}
		}
		segs = append(segs, seg)
	}
}
