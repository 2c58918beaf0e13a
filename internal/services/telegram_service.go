package services

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/models"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramService posts payment notifications to an admin chat.
type TelegramService struct {
	botToken    string
	adminChatID string
	client      gatewayClient
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string, logger *zap.Logger, opts ...Option) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		client:      newGatewayClient("telegram", logger, opts),
	}
}

// Enabled reports whether both the bot token and the chat are configured.
func (s *TelegramService) Enabled() bool {
	return s.botToken != "" && s.adminChatID != ""
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to specified chat.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		s.client.logger.Debug("telegram bot token not configured")
		return nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.client.resolveBase(telegramAPIBase), s.botToken)
	resp, err := s.client.do(ctx, "send_message", requestOpts{
		Method:  http.MethodPost,
		URL:     url,
		JSON:    telegramMessage{ChatID: chatID, Text: text, ParseMode: "HTML"},
		Timeout: lookupCallTimeout,
		Secret:  s.botToken,
	})
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.Status)
	}
	return nil
}

// FormatPrice renders an amount with thousand separators and currency.
func FormatPrice(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	fixed := amount.StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")
	negative := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	var result strings.Builder
	if negative {
		result.WriteString("-")
	}
	length := len(intPart)
	for i, digit := range intPart {
		if i > 0 && (length-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}
	return result.String() + "." + frac + " " + currency
}

// NotifyPayment implements PaymentNotifier.
func (s *TelegramService) NotifyPayment(ctx context.Context, event models.PaymentEvent) error {
	if !s.Enabled() {
		return nil
	}

	amount := "-"
	if event.Amount != "" {
		if d, err := decimal.NewFromString(event.Amount); err == nil {
			amount = FormatPrice(d, event.Currency)
		}
	}

	message := fmt.Sprintf(`<b>%s</b>
<b>Gateway:</b> %s
<b>Order:</b> %s
<b>Reference:</b> %s
<b>Status:</b> %s
<b>Amount:</b> %s`,
		html.EscapeString(event.Type),
		html.EscapeString(event.Gateway),
		html.EscapeString(valueOr(event.OrderID, "-")),
		html.EscapeString(valueOr(event.ResourceID, "-")),
		html.EscapeString(valueOr(event.Status, "-")),
		html.EscapeString(amount),
	)

	return s.SendMessage(ctx, s.adminChatID, message)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
