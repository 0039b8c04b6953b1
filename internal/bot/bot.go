package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"cryptomovers/internal/app"
	"cryptomovers/internal/freshness"
	"cryptomovers/internal/models"
)

const topRows = 10

const helpText = `📊 Movers bot

/gainers - top CEX gainers (24h)
/losers - top CEX losers (24h)
/pools <network> - DEX pool movers (default: all)
/dex <network> - DEX pair movers (default: all)`

// Datasets is the part of *app.App the bot reads from.
type Datasets interface {
	Market() *freshness.Engine
	Pools(network string) (*freshness.Engine, error)
	Pairs(network string) (app.Dataset, error)
}

type Bot struct {
	api  *tgbotapi.BotAPI
	data Datasets
	// replyTimeout bounds one command, including a cold-start fetch.
	replyTimeout time.Duration
}

func New(token string, data Datasets) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return &Bot{api: api, data: data, replyTimeout: time.Minute}, nil
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) {
	log.Info().Str("account", b.api.Self.UserName).Msg("telegram bot authorized")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			log.Info().Msg("telegram bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handle(ctx, update.Message)
		}
	}
}

func (b *Bot) handle(ctx context.Context, m *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(ctx, b.replyTimeout)
	defer cancel()

	text := b.reply(ctx, m.Command(), m.CommandArguments())
	msg := tgbotapi.NewMessage(m.Chat.ID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		log.Warn().Err(err).Int64("chat", m.Chat.ID).Str("command", m.Command()).Msg("sending reply")
	}
}

// reply renders the answer to one command.
func (b *Bot) reply(ctx context.Context, command, args string) string {
	network := strings.ToLower(strings.TrimSpace(args))
	if network == "" {
		network = app.AllNetworks
	}

	var (
		engine app.Dataset
		title  string
		err    error
	)
	switch command {
	case "gainers":
		engine, title = b.data.Market(), "🚀 TOP GAINERS (24h)"
	case "losers":
		engine, title = b.data.Market(), "📉 TOP LOSERS (24h)"
	case "pools":
		engine, err = b.data.Pools(network)
		title = "🌊 POOL MOVERS · " + strings.ToUpper(network)
	case "dex":
		engine, err = b.data.Pairs(network)
		title = "🔄 DEX PAIR MOVERS · " + strings.ToUpper(network)
	default:
		return helpText
	}
	switch {
	case errors.Is(err, app.ErrUnknownNetwork):
		return fmt.Sprintf("Unknown network %q", network)
	case errors.Is(err, app.ErrPairsDisabled):
		return "DEX pairs are not enabled on this instance"
	case err != nil:
		return "Data unavailable"
	}

	resp, err := engine.Serve(ctx)
	if err != nil {
		log.Error().Err(err).Str("dataset", engine.Dataset()).Msg("bot request failed")
		return "Data unavailable, try again shortly"
	}
	payload := resp.Entry.Payload
	switch command {
	case "gainers":
		return formatMovers(title, resp.Entry, formatList(payload.Gainers))
	case "losers":
		return formatMovers(title, resp.Entry, formatList(payload.Losers))
	default:
		return formatMovers(title, resp.Entry,
			"🟢 Gainers\n"+formatList(payload.Gainers),
			"🔴 Losers\n"+formatList(payload.Losers))
	}
}

func formatMovers(title string, entry models.CacheEntry, sections ...string) string {
	footer := "📊 Updated: " + entry.Timestamp.UTC().Format("2006-01-02 15:04 UTC")
	if entry.IsPartial {
		footer += " (partial)"
	}
	if entry.LastUpdateFailed {
		footer += " ⚠️ last refresh failed"
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, strings.Join(sections, "\n\n"), footer)
}

func formatList(items []models.Item) string {
	if len(items) == 0 {
		return "No movers"
	}
	lines := make([]string, 0, min(len(items), topRows))
	for i, it := range items {
		if i == topRows {
			break
		}
		lines = append(lines, formatItem(i+1, it))
	}
	return strings.Join(lines, "\n")
}

func formatItem(rank int, it models.Item) string {
	rankEmoji := "▫️"
	switch rank {
	case 1:
		rankEmoji = "🥇"
	case 2:
		rankEmoji = "🥈"
	case 3:
		rankEmoji = "🥉"
	}

	changeIndicator := "➖"
	if it.Change24h > 0 {
		changeIndicator = "🟢"
	} else if it.Change24h < 0 {
		changeIndicator = "🔴"
	}

	line := fmt.Sprintf("%s #%d %s | 💰 %s (%s%.2f%%) | 📈 Vol: %s",
		rankEmoji,
		rank,
		strings.ToUpper(it.Symbol),
		formatPrice(it.Price),
		changeIndicator,
		it.Change24h,
		formatValue(it.Volume24h))
	if it.Liquidity > 0 {
		return line + " | 💧 Liq: " + formatValue(it.Liquidity)
	}
	return line + " | 💎 MC: " + formatValue(it.MarketCap)
}

func formatValue(value float64) string {
	if value == 0 {
		return "N/A"
	}
	if value >= 1e9 {
		return fmt.Sprintf("%.2f B", value/1e9)
	}
	if value >= 1e6 {
		return fmt.Sprintf("%.2f M", value/1e6)
	}
	if value >= 1e3 {
		return fmt.Sprintf("%.2f K", value/1e3)
	}
	return fmt.Sprintf("%.2f", value)
}

func formatPrice(price float64) string {
	switch {
	case price == 0:
		return "N/A"
	case price >= 1:
		return fmt.Sprintf("$%.4f", price)
	default:
		// Sub-dollar tokens need more precision than four decimals.
		return fmt.Sprintf("$%.8g", price)
	}
}
