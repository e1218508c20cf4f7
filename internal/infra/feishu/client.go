// Package feishu sends operator notifications through the Feishu (Lark) open platform.
package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/pipeboard/contact-sync/internal/logger"
)

// Client is the Feishu API client
type Client struct {
	larkCli *lark.Client
	log     *slog.Logger
}

// Option customizes the underlying lark client
type Option func(*[]lark.ClientOptionFunc)

// WithBaseURL points the client at another open platform host
func WithBaseURL(url string) Option {
	return func(opts *[]lark.ClientOptionFunc) {
		*opts = append(*opts, lark.WithOpenBaseUrl(url))
	}
}

// NewClient creates a new Feishu client
func NewClient(appID, appSecret string, options ...Option) *Client {
	opts := []lark.ClientOptionFunc{lark.WithLogLevel(larkcore.LogLevelError)}
	for _, o := range options {
		o(&opts)
	}
	return &Client{
		larkCli: lark.NewClient(appID, appSecret, opts...),
		log:     logger.For("feishu"),
	}
}

// SendText sends a text message to a chat
func (c *Client) SendText(ctx context.Context, chatID, text string) (string, error) {
	content, _ := json.Marshal(map[string]string{"text": text})
	return c.create(ctx, chatID, larkim.MsgTypeText, string(content))
}

// SendPost sends a rich text message with a title, one paragraph per line
func (c *Client) SendPost(ctx context.Context, chatID, title string, lines []string) (string, error) {
	paragraphs := make([][]map[string]any, 0, len(lines))
	for _, line := range lines {
		paragraphs = append(paragraphs, []map[string]any{{"tag": "text", "text": line}})
	}
	post := map[string]any{
		"zh_cn": map[string]any{
			"title":   title,
			"content": paragraphs,
		},
	}
	content, _ := json.Marshal(post)
	return c.create(ctx, chatID, larkim.MsgTypePost, string(content))
}

func (c *Client) create(ctx context.Context, chatID, msgType, content string) (string, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("send %s message failed: %w", msgType, err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("send %s message error: code=%d %s", msgType, resp.Code, resp.Msg)
	}

	var msgID string
	if resp.Data != nil && resp.Data.MessageId != nil {
		msgID = *resp.Data.MessageId
	}
	c.log.Debug("message sent", slog.String("chat_id", chatID), slog.String("message_id", msgID))
	return msgID, nil
}
