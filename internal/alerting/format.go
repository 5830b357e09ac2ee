package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const emailFooter = "---\nValidator Status Notifications\nThis is an automated message. Please do not reply to this email."

// Subject returns the email subject for a signal.
func Subject(signal Signal, p Payload) string {
	switch signal {
	case SignalBalance:
		if p.IsLowBalance {
			return "⚠️ Low Balance Alert"
		}
		return "✅ Balance Restored"
	case SignalPDABalance:
		if p.IsLowBalance {
			return "⚠️ Low PDA Balance Alert"
		}
		return "✅ PDA Balance Restored"
	case SignalDelinquent:
		return "⚠️ Validator Delinquent"
	case SignalResolved:
		return "✅ Validator Status Restored"
	case SignalSkipSlots:
		return "⚠️ Skip Slot Alert"
	case SignalVoteCredit:
		if p.HasLowCredit {
			return "⚠️ Low Vote Credit Alert"
		}
		return "✅ Vote Credit Restored"
	default:
		return "Validator Status Change!"
	}
}

// ShortenAddress keeps n characters on each side of addr.
func ShortenAddress(addr string, n int) string {
	if n <= 0 || len(addr) <= 2*n {
		return addr
	}
	return addr[:n] + "..." + addr[len(addr)-n:]
}

type field struct {
	label string
	value string
}

// card is the channel-neutral content of a notification.
type card struct {
	title   string
	fields  []field
	summary string
}

func buildCard(signal Signal, p Payload) card {
	c := card{title: strings.TrimSpace(strings.TrimLeft(Subject(signal, p), "⚠️✅ "))}
	switch signal {
	case SignalSkipSlots:
		c.fields = append(c.fields, field{"Skipped Slots", joinSlots(p.SkippedSlots, 0)})
		c.summary = fmt.Sprintf("%d slot(s) were skipped by the validator.", len(p.SkippedSlots))
	case SignalDelinquent:
		c.fields = append(c.fields, field{"Status", "Delinquent"})
		c.summary = "The validator has stopped voting."
	case SignalResolved:
		c.fields = append(c.fields, field{"Status", "Current"})
		c.summary = "The validator is voting again."
	case SignalBalance, SignalPDABalance:
		if p.PDAAddress != "" {
			c.fields = append(c.fields, field{"PDA Address", p.PDAAddress})
		}
		c.fields = append(c.fields,
			field{"Balance", formatSOL(p.BalanceSOL, 4)},
			field{"Threshold", formatSOL(p.Threshold, 2)},
		)
		if p.IsLowBalance {
			c.summary = "The balance fell below the configured threshold."
		} else {
			c.summary = "The balance is back above the configured threshold."
		}
	case SignalVoteCredit:
		if p.HasLowCredit {
			c.fields = append(c.fields, field{"Vote Credits", "Low"})
			c.summary = "Every recent vote earned fewer than the maximum credits."
		} else {
			c.fields = append(c.fields, field{"Vote Credits", "Normal"})
			c.summary = "Vote credits are back to normal."
		}
	}
	return c
}

// Render formats a payload for one channel.
func Render(signal Signal, channel Channel, p Payload) Message {
	c := buildCard(signal, p)
	subject := Subject(signal, p)
	switch channel {
	case ChannelTelegram:
		return Message{Subject: subject, Body: renderMarkdown(c, p, "*")}
	case ChannelDiscordDM:
		return Message{Subject: subject, Body: renderMarkdown(c, p, "**")}
	case ChannelSMS:
		return Message{Subject: subject, Body: renderSMS(signal, p)}
	case ChannelCall:
		return Message{Subject: subject, Body: renderSpoken(signal, p)}
	default:
		return Message{Subject: subject, Body: renderPlain(c, p)}
	}
}

func renderMarkdown(c card, p Payload, bold string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s%s\n\n", bold, c.title, bold)
	fmt.Fprintf(&b, "%sValidator:%s [%s](%s)\n", bold, bold, displayName(p, 8), p.ExplorerURL)
	fmt.Fprintf(&b, "%sNetwork:%s %s\n", bold, bold, p.Network)
	for _, f := range c.fields {
		fmt.Fprintf(&b, "%s%s:%s %s\n", bold, f.label, bold, f.value)
	}
	if c.summary != "" {
		fmt.Fprintf(&b, "\n%s\n", c.summary)
	}
	fmt.Fprintf(&b, "\n%sTimestamp:%s %s", bold, bold, formatTime(p.At))
	return b.String()
}

func renderPlain(c card, p Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", c.title)
	fmt.Fprintf(&b, "Validator: %s\n", displayName(p, 8))
	fmt.Fprintf(&b, "Vote Account: %s\n", p.VoteAddress)
	fmt.Fprintf(&b, "Network: %s\n", p.Network)
	for _, f := range c.fields {
		fmt.Fprintf(&b, "%s: %s\n", f.label, f.value)
	}
	if c.summary != "" {
		fmt.Fprintf(&b, "\n%s\n", c.summary)
	}
	fmt.Fprintf(&b, "\nExplorer: %s\n", p.ExplorerURL)
	fmt.Fprintf(&b, "Timestamp: %s\n\n", formatTime(p.At))
	b.WriteString(emailFooter)
	return b.String()
}

func renderSMS(signal Signal, p Payload) string {
	who := displayName(p, 4)
	network := strings.ToUpper(string(p.Network))
	switch signal {
	case SignalSkipSlots:
		return fmt.Sprintf("SKIP SLOT: %s (%s) skipped %s", who, network, joinSlots(p.SkippedSlots, 3))
	case SignalDelinquent:
		return fmt.Sprintf("DELINQUENT: %s (%s) stopped voting", who, network)
	case SignalResolved:
		return fmt.Sprintf("RESOLVED: %s (%s) is voting again", who, network)
	case SignalBalance, SignalPDABalance:
		label := "BALANCE"
		if signal == SignalPDABalance {
			label = "PDA BALANCE"
		}
		state := "LOW"
		if !p.IsLowBalance {
			state = "OK"
		}
		return fmt.Sprintf("%s %s: %s (%s) %s SOL, threshold %s SOL", label, state, who, network,
			p.BalanceSOL.StringFixed(2), p.Threshold.StringFixed(2))
	case SignalVoteCredit:
		if p.HasLowCredit {
			return fmt.Sprintf("VOTE CREDIT LOW: %s (%s)", who, network)
		}
		return fmt.Sprintf("VOTE CREDIT OK: %s (%s)", who, network)
	default:
		return fmt.Sprintf("STATUS CHANGE: %s (%s)", who, network)
	}
}

func renderSpoken(signal Signal, p Payload) string {
	name := p.Name
	if name == "" {
		name = "your validator"
	}
	switch signal {
	case SignalDelinquent:
		return fmt.Sprintf("Alert. %s on %s is delinquent.", name, p.Network)
	default:
		return fmt.Sprintf("Alert for %s on %s. %s.", name, p.Network, strings.TrimLeft(Subject(signal, p), "⚠️✅ "))
	}
}

func displayName(p Payload, n int) string {
	if p.Name != "" {
		return p.Name
	}
	return ShortenAddress(p.VoteAddress, n)
}

// joinSlots lists the slots, capped at limit entries when limit > 0.
func joinSlots(slots []uint64, limit int) string {
	shown := slots
	if limit > 0 && len(slots) > limit {
		shown = slots[:limit]
	}
	parts := make([]string, len(shown))
	for i, s := range shown {
		parts[i] = fmt.Sprintf("%d", s)
	}
	out := strings.Join(parts, ", ")
	if extra := len(slots) - len(shown); extra > 0 {
		out += fmt.Sprintf(" +%d more", extra)
	}
	return out
}

func formatSOL(v decimal.Decimal, places int32) string {
	return v.StringFixed(places) + " SOL"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}
