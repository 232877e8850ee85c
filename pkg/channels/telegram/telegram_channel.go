package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"ddx/pkg/api"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig encapsulates the bot credentials and notification targets.
type TelegramConfig struct {
	Token string `json:"token"` // The secret BOT API string provided by @BotFather
	// ChatIDs receive every outcome and may /status or /cancel any case.
	// Other chats only hear about the cases they submitted themselves.
	ChatIDs []int64 `json:"chat_ids,omitempty"`
	// Decisions also forwards every stewardship decision, not only outcomes.
	Decisions bool `json:"decisions,omitempty"`
}

// sender is the part of the bot API the channel uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type outgoing struct {
	chatID int64
	text   string
}

// TelegramChannel notifies chats about case outcomes and accepts /status,
// /cancel and case documents from them.
type TelegramChannel struct {
	config       TelegramConfig
	bot          *tgbotapi.BotAPI // nil in tests
	out          sender
	messageLimit int
	outbox       chan outgoing
	admins       map[int64]struct{}
	owners       map[string]int64 // caseID -> 提交該 case 的 chat
	mu           sync.Mutex
	stopCtx      context.Context    // aborts the long-polling HTTP request
	stopCancel   context.CancelFunc // Function to trigger the abort
	done         chan struct{}
}

func NewTelegramChannel(cfg TelegramConfig, msgLimit, buffer int) (*TelegramChannel, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// 長輪詢請求綁定 stopCtx，Stop() 時可立即中斷連線，避免 409 Conflict
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	botHttpClient := &http.Client{
		Timeout: 70 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				mergedCtx, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-mergedCtx.Done():
					}
				}()
				return dialer.DialContext(mergedCtx, network, addr)
			},
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, botHttpClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	t := newChannel(cfg, bot, msgLimit, buffer)
	t.bot = bot
	t.stopCtx, t.stopCancel = ctx, cancel
	return t, nil
}

func newChannel(cfg TelegramConfig, out sender, msgLimit, buffer int) *TelegramChannel {
	if msgLimit <= 0 {
		msgLimit = 4000
	}
	if buffer <= 0 {
		buffer = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &TelegramChannel{
		config:       cfg,
		out:          out,
		messageLimit: msgLimit,
		outbox:       make(chan outgoing, buffer),
		admins:       make(map[int64]struct{}),
		owners:       make(map[string]int64),
		stopCtx:      ctx,
		stopCancel:   cancel,
		done:         make(chan struct{}),
	}
	for _, id := range cfg.ChatIDs {
		t.admins[id] = struct{}{}
	}
	return t
}

// ID returns the unique platform identifier "telegram".
func (t *TelegramChannel) ID() string {
	return "telegram"
}

// Start launches the sender and, with a real bot, the update loop.
func (t *TelegramChannel) Start(ctx api.ChannelContext) error {
	go t.drain()
	if t.bot != nil {
		go t.poll(ctx)
	}
	return nil
}

func (t *TelegramChannel) poll(ctx api.ChannelContext) {
	offset := 0
	for {
		select {
		case <-t.stopCtx.Done():
			return
		default:
		}

		reqConfig := tgbotapi.NewUpdate(offset)
		reqConfig.Timeout = 60

		updates, err := t.bot.GetUpdates(reqConfig)
		if err != nil {
			select {
			case <-t.stopCtx.Done():
				return // 關閉中，忽略錯誤
			case <-time.After(3 * time.Second):
				slog.Debug("Failed to get telegram updates", "error", err)
				continue
			}
		}

		for _, update := range updates {
			if update.UpdateID < offset {
				continue
			}
			offset = update.UpdateID + 1
			if update.Message == nil || update.Message.Chat == nil {
				continue
			}
			t.onText(ctx, update.Message.Chat.ID, update.Message.Text)
		}
	}
}

// onText handles one incoming chat message and queues the reply.
func (t *TelegramChannel) onText(ctx api.ChannelContext, chatID int64, text string) {
	reply := t.reply(ctx, chatID, strings.TrimSpace(text))
	if reply != "" {
		t.enqueue(chatID, reply)
	}
}

func (t *TelegramChannel) reply(ctx api.ChannelContext, chatID int64, text string) string {
	if strings.HasPrefix(text, "{") {
		// 先鎖住，避免結果在登記 owner 之前就發佈
		t.mu.Lock()
		defer t.mu.Unlock()
		id, err := ctx.SubmitCase([]byte(text))
		if err != nil {
			return fmt.Sprintf("❌ Case rejected: %v", err)
		}
		if _, admin := t.admins[chatID]; !admin {
			t.owners[id] = chatID
		}
		return fmt.Sprintf("🩺 Case %s started", id)
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	// "/cancel@bot_name" 也要能辨識
	cmd, _, _ := strings.Cut(fields[0], "@")
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "/status":
		if arg == "" {
			return "Usage: /status <case-id>"
		}
		if !t.allowed(chatID, arg) {
			return fmt.Sprintf("Unknown case %s", arg)
		}
		status, ok := ctx.CaseStatus(arg)
		if !ok {
			return fmt.Sprintf("Unknown case %s", arg)
		}
		return fmt.Sprintf("Case %s: %s", arg, status)
	case "/cancel":
		if arg == "" {
			return "Usage: /cancel <case-id>"
		}
		if !t.allowed(chatID, arg) {
			return fmt.Sprintf("⛔ Case %s was not submitted from this chat", arg)
		}
		if !ctx.CancelCase(arg) {
			return fmt.Sprintf("Case %s is not running", arg)
		}
		return fmt.Sprintf("🛑 Cancelling %s at the next iteration", arg)
	default:
		return "Send a case as JSON to start it.\n/status <case-id>\n/cancel <case-id>"
	}
}

// allowed reports whether chatID may inspect or cancel caseID.
func (t *TelegramChannel) allowed(chatID int64, caseID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.admins[chatID]; ok {
		return true
	}
	owner, ok := t.owners[caseID]
	return ok && owner == chatID
}

// recipients returns the configured chats plus the chat that submitted the
// case. The owner entry is dropped once the outcome is out.
func (t *TelegramChannel) recipients(caseID string, final bool) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int64, 0, len(t.admins)+1)
	for id := range t.admins {
		out = append(out, id)
	}
	if owner, ok := t.owners[caseID]; ok {
		out = append(out, owner)
		if final {
			delete(t.owners, caseID)
		}
	}
	return out
}

// Publish queues a notification for outcomes (and decisions when enabled).
// It never blocks: when the outbox is full the message is dropped.
func (t *TelegramChannel) Publish(event api.TrailEvent) error {
	var text string
	switch {
	case event.Summary != nil:
		text = FormatSummary(*event.Summary)
	case t.config.Decisions && event.Decision != nil:
		text = fmt.Sprintf("[%s #%d] %s: %s", event.CaseID, event.Iteration, event.Decision.Verdict, event.Decision.Reason)
	default:
		return nil
	}

	for _, id := range t.recipients(event.CaseID, event.Summary != nil) {
		t.enqueue(id, text)
	}
	return nil
}

func (t *TelegramChannel) enqueue(chatID int64, text string) {
	select {
	case t.outbox <- outgoing{chatID: chatID, text: text}:
	default:
		slog.Warn("Telegram outbox full, dropping message", "chat", chatID)
	}
}

func (t *TelegramChannel) drain() {
	defer close(t.done)
	for {
		select {
		case <-t.stopCtx.Done():
			return
		case msg := <-t.outbox:
			if err := t.send(msg.chatID, msg.text); err != nil {
				slog.Error("Telegram send failed", "chat", msg.chatID, "error", err)
			}
		}
	}
}

// send splits long messages at the configured rune limit.
func (t *TelegramChannel) send(chatID int64, message string) error {
	for _, chunk := range splitRunes(message, t.messageLimit) {
		if _, err := t.out.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send failed: %w", err)
		}
	}
	return nil
}

func (t *TelegramChannel) Stop() error {
	t.stopCancel()

	if t.bot != nil {
		if httpClient, ok := t.bot.Client.(*http.Client); ok && httpClient != nil {
			if transport, ok := httpClient.Transport.(*http.Transport); ok {
				transport.CloseIdleConnections()
			}
		}
	}
	return nil
}

func splitRunes(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}
	var out []string
	for i := 0; i < len(runes); i += limit {
		end := min(i+limit, len(runes))
		out = append(out, string(runes[i:end]))
	}
	return out
}

// FormatSummary renders a case outcome as a chat message.
func FormatSummary(s api.Summary) string {
	var sb strings.Builder
	switch s.Status {
	case api.StatusDiagnosed:
		fmt.Fprintf(&sb, "✅ Case %s: %s (%.1f%%)\n", s.CaseID, s.Diagnosis, s.Confidence*100)
	default:
		fmt.Fprintf(&sb, "⚠️ Case %s: %s\n", s.CaseID, s.Status)
	}
	fmt.Fprintf(&sb, "Cost $%.2f over %d iterations\n", s.TotalCost, s.Iterations)

	for i, c := range s.Differential {
		if i == 3 {
			break
		}
		fmt.Fprintf(&sb, "%d. %s %.1f%%\n", i+1, c.Name, c.Posterior*100)
	}
	if len(s.TestsOrdered) > 0 {
		names := make([]string, 0, len(s.TestsOrdered))
		for _, r := range s.TestsOrdered {
			if r.Outcome != "" {
				names = append(names, r.Test+"="+r.Outcome)
			} else {
				names = append(names, r.Test)
			}
		}
		fmt.Fprintf(&sb, "Tests: %s\n", strings.Join(names, ", "))
	}
	if s.Treatment != nil {
		for _, m := range s.Treatment.Medications {
			fmt.Fprintf(&sb, "💊 %s %s %s\n", m.Name, m.Dosage, m.Frequency)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
