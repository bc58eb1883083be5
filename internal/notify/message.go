package notify

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"tradewire/internal/domain"
)

// ParseModeMarkdown matches telebot's Markdown mode constant; kept as a plain
// string so this package does not import the bot.
const ParseModeMarkdown = "Markdown"

var messageTemplates = template.Must(template.New("messages").Funcs(template.FuncMap{
	"price": func(v float64) string { return strconv8(v) },
	"signed": func(v float64) string {
		return fmt.Sprintf("%+.2f", v)
	},
	"clock": func(t time.Time) string { return t.UTC().Format("15:04:05 MST") },
	"deref": func(v *float64) float64 {
		if v == nil {
			return 0
		}
		return *v
	},
}).Parse(`
{{- define "trade-opened" -}}
📈 *{{.Config.Symbol}}* {{.Config.Timeframe}} · {{.Config.Strategy}}
Opened *{{.Trade.Direction}}* trade #{{.Trade.TradeNumber}} at {{price .Trade.EntryPrice}}
{{- if .Signal}}{{if .Signal.TakeProfit}}
TP {{price (deref .Signal.TakeProfit)}}{{end}}{{if .Signal.StopLoss}} · SL {{price (deref .Signal.StopLoss)}}{{end}}{{end}}
{{clock .OccurredAt}}
{{- end}}

{{- define "trade-closed" -}}
{{if .Urgent}}🛑{{else}}✅{{end}} *{{.Config.Symbol}}* {{.Config.Timeframe}} · {{.Config.Strategy}}
Closed {{.Trade.Direction}} trade #{{.Trade.TradeNumber}} at {{price (deref .Trade.ExitPrice)}}
P&L {{signed (deref .Trade.PnLAmount)}} ({{signed (deref .Trade.PnLPercent)}}%)
{{clock .OccurredAt}}
{{- end}}

{{- define "trade-replaced" -}}
🔁 *{{.Config.Symbol}}* {{.Config.Timeframe}} · {{.Config.Strategy}}
Trade #{{.Replaced.TradeNumber}} replaced by #{{.Trade.TradeNumber}} at {{price .Trade.EntryPrice}}
The earlier {{.Replaced.Direction}} entry may have been a false signal.
{{clock .OccurredAt}}
{{- end}}

{{- define "condition-triggered" -}}
🔔 *{{.Config.Symbol}}* {{.Config.Timeframe}} · {{.Config.Strategy}}
Condition fired: _{{.Condition.Name}}_
{{clock .OccurredAt}}
{{- end}}
`))

// RenderMessage produces the Telegram body for one trigger event.
func RenderMessage(event *domain.TriggerEvent) (string, error) {
	var sb strings.Builder
	if err := messageTemplates.ExecuteTemplate(&sb, string(event.Kind), event); err != nil {
		return "", fmt.Errorf("render %s message: %w", event.Kind, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// strconv8 trims trailing zeros the way %.8g does, keeping sub-cent asset
// prices readable.
func strconv8(v float64) string {
	return fmt.Sprintf("%.8g", v)
}
