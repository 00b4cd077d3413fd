package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"kanban/internal/broadcast"
)

// Feed keeps a Reconciler subscribed to its board's websocket topic. Every
// (re)connection starts with a snapshot, so events missed while offline are
// covered by the reset.
type Feed struct {
	BaseURL    string
	Token      string
	Reconciler *Reconciler
	Dialer     *websocket.Dialer
	Logger     *slog.Logger

	MinBackoff time.Duration
	MaxBackoff time.Duration

	// connected, when set, is called after each snapshot is installed.
	connected func()
}

// NewFeed creates a feed for the reconciler's board on the server at baseURL
// (http or https).
func NewFeed(baseURL, token string, r *Reconciler, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Feed{
		BaseURL:    baseURL,
		Token:      token,
		Reconciler: r,
		Dialer:     websocket.DefaultDialer,
		Logger:     logger,
		MinBackoff: 250 * time.Millisecond,
		MaxBackoff: 15 * time.Second,
	}
}

// errPermanent marks handshake failures that retrying cannot fix.
var errPermanent = errors.New("feed rejected")

// Run connects and reconnects until ctx is done or the server refuses the
// viewer outright.
func (f *Feed) Run(ctx context.Context) error {
	backoff := f.MinBackoff
	for {
		started := time.Now()
		err := f.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errPermanent) {
			return err
		}
		if time.Since(started) > f.MaxBackoff {
			backoff = f.MinBackoff
		}
		f.Logger.Warn("board feed lost, reconnecting",
			slog.Int64("board_id", f.Reconciler.BoardID()),
			slog.Duration("backoff", backoff),
			slog.Any("error", err))

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > f.MaxBackoff {
			backoff = f.MaxBackoff
		}
	}
}

func (f *Feed) runOnce(ctx context.Context) error {
	endpoint, err := f.endpoint()
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	conn, resp, err := f.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound) {
			return fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var frame broadcast.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				return fmt.Errorf("%w: %v", errPermanent, err)
			}
			return fmt.Errorf("read: %w", err)
		}
		switch frame.Type {
		case broadcast.FrameSnapshot:
			if frame.Board == nil {
				return errors.New("snapshot frame without board")
			}
			f.Reconciler.Reset(*frame.Board)
			f.Logger.Debug("board snapshot installed", slog.Int64("board_id", frame.Board.Board.ID))
			if f.connected != nil {
				f.connected()
			}
		case broadcast.FrameEvent:
			if frame.Event != nil {
				f.Reconciler.HandleEvent(ctx, *frame.Event)
			}
		default:
			f.Logger.Debug("ignoring frame", slog.String("type", frame.Type))
		}
	}
}

func (f *Feed) endpoint() (string, error) {
	u, err := url.Parse(f.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/api/boards/%d/ws", f.Reconciler.BoardID())
	u.RawQuery = url.Values{"token": {f.Token}}.Encode()
	return u.String(), nil
}
