package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/core"
	"github.com/web3guy0/tradeguard/events"
	"github.com/web3guy0/tradeguard/restriction"
	"github.com/web3guy0/tradeguard/risk"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Alerts & operator control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   🚨 Account breach alerts (always sent, distinct severity)
//   ⛔ Restriction transitions, rejected orders
//   💰 Take-profit hits, stop moves, closed positions
//   🎛️ Operator commands (/status, /stop, /resume)
//
// ═══════════════════════════════════════════════════════════════════════════════

// Operator is the engine surface the bot controls
type Operator interface {
	Status() core.Status
	Stop(reason string)
	Resume() error
}

// sender is the part of tgbotapi.BotAPI the bot uses
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramBot manages the Telegram interface
type TelegramBot struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	out     sender
	chatID  int64
	op      Operator
	quiet   bool
	running bool
}

// NewTelegramBot connects to Telegram
func NewTelegramBot(token string, chatID int64, op Operator) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return &TelegramBot{api: api, out: api, chatID: chatID, op: op}, nil
}

// SetQuiet drops info-severity alerts
func (b *TelegramBot) SetQuiet(q bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quiet = q
}

// Run forwards alerts from sub and answers commands until ctx is done
func (b *TelegramBot) Run(ctx context.Context, sub *events.Subscription) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("telegram bot already running")
	}
	b.running = true
	b.mu.Unlock()

	var updates tgbotapi.UpdatesChannel
	if b.api != nil {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		updates = b.api.GetUpdatesChan(u)
		defer b.api.StopReceivingUpdates()
	}

	log.Info().Msg("📱 Telegram bot started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Telegram bot stopped")
			return nil
		case e, ok := <-sub.C():
			if !ok {
				return nil
			}
			b.Alert(e)
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			// Only respond to authorized chat
			if update.Message.Chat.ID != b.chatID {
				continue
			}
			b.sendMarkdown(b.HandleCommand(update.Message.Command(), update.Message.CommandArguments()))
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// Alert sends e if it is worth a message
func (b *TelegramBot) Alert(e events.Event) {
	b.mu.RLock()
	quiet := b.quiet
	b.mu.RUnlock()

	if quiet && e.Severity == events.SeverityInfo {
		return
	}
	if msg, ok := FormatEvent(e); ok {
		b.sendMarkdown(msg)
	}
}

// NotifyStartup sends startup notification
func (b *TelegramBot) NotifyStartup(mode string) {
	st := b.op.Status()
	symbols := make([]string, len(st.Symbols))
	for i, s := range st.Symbols {
		symbols[i] = s.Symbol
	}
	b.sendMarkdown(fmt.Sprintf(`🚀 *TRADEGUARD STARTED*
━━━━━━━━━━━━━━━━━━━━

📊 Mode: *%s*
📈 Symbols: *%s*
🛡️ Account: *%s*

Use /help for commands`, mode, strings.Join(symbols, ", "), st.Account.Status))
}

// FormatEvent renders an event; false for events that are not alerted
func FormatEvent(e events.Event) (string, bool) {
	switch e.Type {
	case events.AccountBreach:
		return fmt.Sprintf(`🚨 *ACCOUNT STOP-LOSS BREACHED*
━━━━━━━━━━━━━━━━━━━━

⛔ Status: *%s*
📝 %s
💰 Balance: *$%s*
📉 Daily P&L: *%s*
📉 Drawdown: *%s%%*

All new entries halted`,
			e.Status, e.Reason,
			e.Price.StringFixed(2),
			signed(e.PnL),
			e.Level.Mul(decimal.NewFromInt(100)).StringFixed(2),
		), true

	case events.AccountChanged:
		emoji := "🛡️"
		if e.Status == string(risk.StatusActive) {
			emoji = "▶️"
		}
		return fmt.Sprintf("%s *Account %s*\n📝 %s", emoji, e.Status, e.Reason), true

	case events.RestrictionChanged:
		if e.Status == string(restriction.Restricted) {
			return fmt.Sprintf("⛔ *%s restricted*\n📝 %s", e.Symbol, e.Reason), true
		}
		return fmt.Sprintf("✅ *%s trading authorized*", e.Symbol), true

	case events.OrderPlaced:
		return fmt.Sprintf(`✅ *ORDER PLACED*

📊 %s %s — %s
💵 Price: *%s*
📦 Volume: *%s*
🛑 SL: *%s*
🎫 #%d`,
			e.Symbol, strings.ToUpper(e.Direction), e.Strategy,
			e.Price.String(), e.Volume.String(), e.Level.String(), e.Ticket,
		), true

	case events.OrderRejected:
		return fmt.Sprintf("❌ *ORDER REJECTED*\n\n📊 %s %s — %s\n`%s`",
			e.Symbol, strings.ToUpper(e.Direction), e.Strategy, e.Reason), true

	case events.TargetHit:
		return fmt.Sprintf(`💰 *TAKE PROFIT HIT*

📊 %s #%d
🎯 Level: *%s*
📦 Closed: *%s*
💵 P&L: *%s*`,
			e.Symbol, e.Ticket, e.Level.String(), e.Volume.String(), signed(e.PnL),
		), true

	case events.StopLossMoved:
		return fmt.Sprintf("🔒 *Stop moved* (%s)\n📊 %s #%d → *%s*", e.Reason, e.Symbol, e.Ticket, e.Level.String()), true

	case events.PositionClosed, events.ExitExecuted:
		return fmt.Sprintf("📊 *POSITION CLOSED*\n\n📊 %s #%d\n📝 %s\n💵 P&L: *%s*",
			e.Symbol, e.Ticket, e.Reason, signed(e.PnL)), true
	}
	return "", false
}

func signed(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Abs().StringFixed(2)
	}
	return "+$" + d.StringFixed(2)
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

// HandleCommand runs an operator command and returns the reply
func (b *TelegramBot) HandleCommand(cmd, args string) string {
	switch strings.ToLower(cmd) {
	case "start", "help":
		return helpText
	case "status":
		return FormatStatus(b.op.Status())
	case "stop", "pause":
		reason := strings.TrimSpace(args)
		if reason == "" {
			reason = "telegram stop"
		}
		b.op.Stop(reason)
		log.Info().Str("reason", reason).Msg("Trading stopped via Telegram")
		return "⏸️ Trading stopped. New entries are blocked; exits and monitoring continue."
	case "resume":
		if err := b.op.Resume(); err != nil {
			return "❌ Resume refused: " + err.Error()
		}
		log.Info().Msg("Trading resumed via Telegram")
		return "▶️ Trading resumed"
	case "ping":
		return "🏓 Pong!"
	}
	return "❓ Unknown command. Use /help"
}

const helpText = `🤖 *TRADEGUARD COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Account and symbols
⏸️ /stop [reason] — Block new entries
▶️ /resume — Clear a manual stop or drawdown breach
🏓 /ping — Test connection`

// FormatStatus renders the engine status
func FormatStatus(st core.Status) string {
	acct := st.Account
	emoji := "🟢"
	if acct.Status != risk.StatusActive {
		emoji = "🔴"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `📊 *STATUS*
━━━━━━━━━━━━━━━━━━━━

%s Account: *%s*
💰 Balance: *$%s*
🏔️ Peak: *$%s*
📉 Daily P&L: *%s*
📉 Drawdown: *%s%%*
`,
		emoji, acct.Status,
		acct.CurrentBalance.StringFixed(2),
		acct.PeakBalance.StringFixed(2),
		signed(acct.DailyPnL()),
		acct.Drawdown().Mul(decimal.NewFromInt(100)).StringFixed(2),
	)
	if acct.Reason != "" {
		fmt.Fprintf(&sb, "📝 %s\n", acct.Reason)
	}
	if !acct.LastReset.IsZero() {
		fmt.Fprintf(&sb, "🔄 Last reset: %s\n", acct.LastReset.Format("Jan 2 15:04"))
	}

	sb.WriteString("━━━━━━━━━━━━━━━━━━━━\n")
	for _, s := range st.Symbols {
		mark := "🟢"
		if !s.CanTrade {
			mark = "⛔"
		}
		fmt.Fprintf(&sb, "%s *%s* pos %d | ord %d | trk %d", mark, s.Symbol, s.Positions, s.Orders, s.Trackers)
		if s.Suspended > 0 {
			fmt.Fprintf(&sb, " | susp %d", s.Suspended)
		}
		sb.WriteString("\n")
		for _, r := range s.Reasons {
			fmt.Fprintf(&sb, "   _%s_\n", r)
		}
	}
	if st.Running && !st.StartedAt.IsZero() {
		fmt.Fprintf(&sb, "⏱️ Up %s", time.Since(st.StartedAt).Round(time.Second))
	}
	return sb.String()
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.out.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
