package publish

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"autopost/internal/types"
)

// TelegramChannel posts to a public Telegram channel through the Bot API.
type TelegramChannel struct {
	bot     *tgbotapi.BotAPI
	channel string
}

func NewTelegramChannel(botToken, channel string) (*TelegramChannel, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	if !strings.HasPrefix(channel, "@") {
		channel = "@" + channel
	}
	return &TelegramChannel{bot: bot, channel: channel}, nil
}

func (t *TelegramChannel) Name() string {
	return "telegram:" + t.channel
}

func (t *TelegramChannel) Send(ctx context.Context, text string, mediaRef string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var msg tgbotapi.Chattable
	if mediaRef != "" {
		photo := tgbotapi.NewPhotoToChannel(t.channel, tgbotapi.FileURL(mediaRef))
		photo.Caption = text
		msg = photo
	} else {
		msg = tgbotapi.NewMessageToChannel(t.channel, text)
	}

	sent, err := t.bot.Send(msg)
	if err != nil {
		return "", classifyTelegramError(err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// classifyTelegramError separates retryable API failures from permanent
// ones. 400 and 403 mean the request itself is bad or the bot lost channel
// access; retrying cannot help. Everything else, including 429, is
// transient, and the flood-wait interval is surfaced as retry_after.
func classifyTelegramError(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return types.NewPipelineError(types.KindTransientDelivery, "",
			"telegram request failed").WithCause(err)
	}

	switch apiErr.Code {
	case 400, 403:
		return fmt.Errorf("telegram rejected message: %w", err)
	}

	perr := types.NewPipelineError(types.KindTransientDelivery, "",
		fmt.Sprintf("telegram error %d", apiErr.Code)).WithCause(err)
	if apiErr.ResponseParameters.RetryAfter > 0 {
		perr = perr.WithDetail("retry_after", apiErr.ResponseParameters.RetryAfter)
	}
	return perr
}
