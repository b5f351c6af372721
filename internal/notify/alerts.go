package notify

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"tradecore/internal/bus"
	"tradecore/internal/domain/trading"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

// Sender delivers a formatted message to one chat
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// AlertNotifier logs every alert and forwards warning and critical ones to
// operator chats
type AlertNotifier struct {
	bus     bus.Broker
	sender  Sender
	chatIDs []int64
	timeout time.Duration
	log     *logger.Logger
}

// NewAlertNotifier builds a notifier. A nil sender only logs.
func NewAlertNotifier(b bus.Broker, sender Sender, chatIDs []int64) *AlertNotifier {
	return &AlertNotifier{
		bus:     b,
		sender:  sender,
		chatIDs: chatIDs,
		timeout: 10 * time.Second,
		log:     logger.Get().With("component", "alert_notifier"),
	}
}

// Register subscribes the notifier to alerts
func (n *AlertNotifier) Register(ctx context.Context) error {
	return n.bus.Subscribe(ctx, bus.TopicAlerts, bus.Handle(n.HandleAlert))
}

func (n *AlertNotifier) HandleAlert(ctx context.Context, a *trading.Alert) error {
	fields := []interface{}{"alert_id", a.ID, "source", a.Source, "severity", a.Severity, "context", a.Context}
	switch a.Severity {
	case trading.SeverityCritical:
		n.log.Errorw(a.Message, fields...)
	case trading.SeverityWarning:
		n.log.Warnw(a.Message, fields...)
	default:
		n.log.Infow(a.Message, fields...)
		return nil
	}

	if n.sender == nil || len(n.chatIDs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	text := FormatAlert(a)
	var errs errors.MultiError
	for _, chatID := range n.chatIDs {
		if err := n.sender.SendMessage(ctx, chatID, text); err != nil {
			errs.Add(errors.Wrapf(err, "chat %d", chatID))
		}
	}
	return errs.ToError()
}

// FormatAlert renders an alert as Telegram HTML
func FormatAlert(a *trading.Alert) string {
	icon := "⚠️"
	if a.Severity == trading.SeverityCritical {
		icon = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b> from <code>%s</code>\n%s\n",
		icon,
		strings.ToUpper(string(a.Severity)),
		html.EscapeString(a.Source),
		html.EscapeString(a.Message),
	)

	keys := make([]string, 0, len(a.Context))
	for k := range a.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n• %s: %s", html.EscapeString(k), html.EscapeString(formatValue(a.Context[k])))
	}

	if !a.Timestamp.IsZero() {
		fmt.Fprintf(&b, "\n\n<i>%s</i>", a.Timestamp.UTC().Format(time.RFC3339))
	}
	return b.String()
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case float64:
		if x > -1 && x < 1 {
			return fmt.Sprintf("%.2f%%", x*100)
		}
		return humanize.Commaf(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}
