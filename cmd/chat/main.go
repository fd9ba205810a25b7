// Package main is a terminal chat widget for the relay API.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/companion-relay/internal/chatclient"
	"github.com/capitalize-ai/companion-relay/internal/config"
	"github.com/capitalize-ai/companion-relay/internal/model"
	"github.com/capitalize-ai/companion-relay/internal/responder"
	"github.com/capitalize-ai/companion-relay/internal/session"
	"github.com/capitalize-ai/companion-relay/pkg/logger"
)

const helpText = `commands:
  /image <path> [message]  send a picture
  /reset                   clear the conversation
  /forcereset              clear the rate limit only
  /quit                    exit`

func main() {
	cfg, err := config.LoadWidget()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewWithOutput(cfg.LogLevel, "stderr")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatal("failed to open session storage", zap.Error(err))
	}
	defer store.Close()

	view := &terminalView{out: os.Stdout, name: cfg.AssistantName}
	ctrl := session.NewController(store, view,
		session.WithKeyPrefix(cfg.KeyPrefix),
		session.WithMaxHistory(cfg.MaxHistory),
		session.WithFallbackHorizon(cfg.FallbackHorizon),
		session.WithAssistantName(cfg.AssistantName),
		session.WithLogger(log),
	)
	widget := session.NewWidget(ctrl, view,
		chatclient.New(cfg.APIEndpoint, cfg.RequestTimeout),
		responder.New(responder.DefaultTable(cfg.AssistantName)),
		session.WithWidgetLogger(log),
	)

	widget.Start(ctx)
	view.println(helpText)

	if err := run(ctx, widget, ctrl, view, os.Stdin); err != nil {
		log.Error("chat session ended", zap.Error(err))
	}
}

func openStorage(ctx context.Context, cfg *config.WidgetConfig) (session.Storage, error) {
	if session.StoreType(cfg.StorageDriver) != session.StoreTypeRedis {
		return session.NewStorage(session.StoreType(cfg.StorageDriver))
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	sessionID := os.Getenv("CHAT_SESSION_ID")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return session.NewStorage(session.StoreTypeRedis,
		session.WithRedisClient(client),
		session.WithTTL(cfg.SessionTTL),
		session.WithSessionID(sessionID),
	)
}

func run(ctx context.Context, widget *session.Widget, ctrl *session.Controller, view *terminalView, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			if done := handleLine(ctx, widget, ctrl, view, strings.TrimSpace(line)); done {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, widget *session.Widget, ctrl *session.Controller, view *terminalView, line string) bool {
	text, image := line, ""

	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case line == "/help":
		view.println(helpText)
		return false
	case line == "/reset":
		if err := widget.Reset(ctx); err != nil {
			view.println("reset failed: " + err.Error())
		}
		return false
	case line == "/forcereset":
		if err := ctrl.ForceReset(ctx); err != nil {
			view.println("reset failed: " + err.Error())
		}
		return false
	case strings.HasPrefix(line, "/image "):
		path, rest, _ := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "/image ")), " ")
		dataURL, err := imageDataURL(path)
		if err != nil {
			view.println(err.Error())
			return false
		}
		text, image = rest, dataURL
	}

	_, err := widget.Submit(ctx, text, image)
	switch {
	case errors.Is(err, session.ErrRateLimited):
		view.println("(input is disabled until the rate limit resets; /forcereset to override)")
	case errors.Is(err, session.ErrBusy):
		view.println("(still waiting for the last reply)")
	case err != nil:
		view.println(err.Error())
	}
	return false
}

// imageDataURL reads an image file and encodes it as a base64 data URL.
func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", path, mt.String())
	}
	return "data:" + mt.String() + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// terminalView renders the widget on a line-oriented terminal. Timer
// callbacks render from another goroutine, hence the mutex.
type terminalView struct {
	mu   sync.Mutex
	out  io.Writer
	name string
}

func (v *terminalView) println(s string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, s)
}

func (v *terminalView) SetInputEnabled(enabled bool) {
	if !enabled {
		v.println("-- input disabled --")
	}
}

func (v *terminalView) SetStatus(status session.Status) {
	v.println(fmt.Sprintf("-- %s is %s --", v.name, status))
}

func (v *terminalView) ShowBanner(text string) {
	v.println("** " + text + " **")
}

func (v *terminalView) HideBanner() {}

func (v *terminalView) SetTyping(typing bool) {
	if typing {
		v.println(v.name + " is typing...")
	}
}

func (v *terminalView) Render(turn model.ConversationTurn) {
	who := "you"
	if turn.Role == model.RoleAssistant {
		who = v.name
	}
	v.println(fmt.Sprintf("[%s] %s: %s", turn.Timestamp.Format("15:04"), who, turn.Content))
}
