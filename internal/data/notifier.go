package data

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pipeboard/contact-sync/internal/biz/repo"
	"github.com/pipeboard/contact-sync/internal/logger"
)

// Poster delivers a message to an operator chat
type Poster interface {
	SendText(ctx context.Context, chatID, text string) (string, error)
	SendPost(ctx context.Context, chatID, title string, lines []string) (string, error)
}

// feishuNotifier implements repo.Notifier on top of a Feishu chat
type feishuNotifier struct {
	poster  Poster
	chatID  string
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewFeishuNotifier creates an alert notifier. Alerts beyond one per interval
// are logged and dropped.
func NewFeishuNotifier(poster Poster, chatID string, interval time.Duration) repo.Notifier {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &feishuNotifier{
		poster:  poster,
		chatID:  chatID,
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.For("notifier"),
	}
}

// Alert posts one alert. An alert without a body goes out as plain text.
func (n *feishuNotifier) Alert(ctx context.Context, title, text string) error {
	if !n.limiter.Allow() {
		n.log.Warn("alert throttled", "title", title)
		return nil
	}

	var err error
	if strings.TrimSpace(text) == "" {
		_, err = n.poster.SendText(ctx, n.chatID, title)
	} else {
		_, err = n.poster.SendPost(ctx, n.chatID, title, strings.Split(text, "\n"))
	}
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	return nil
}

// logNotifier records alerts in the log only
type logNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a notifier used when no alert chat is configured
func NewLogNotifier() repo.Notifier {
	return &logNotifier{log: logger.For("notifier")}
}

// Alert logs one alert
func (n *logNotifier) Alert(ctx context.Context, title, text string) error {
	n.log.WarnContext(ctx, "alert", "title", title, "text", text)
	return nil
}
