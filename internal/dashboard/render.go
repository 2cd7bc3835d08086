package dashboard

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"hisob/internal/core"
)

// Limits of the rendered dashboard.
const (
	MaxBalanceLines  = 12
	MaxTransferLines = 8
	MaxRunes         = 4096
	MaxTitleRunes    = 128
	MaxLabelRunes    = 32
)

const ellipsis = "…\n"

// Renderer turns a view into the published text.
type Renderer interface {
	Render(v core.View) string
}

// TextRenderer renders the HTML-flavoured plain text used by chat dashboards.
type TextRenderer struct{}

func (TextRenderer) Render(v core.View) string {
	// Each unit is a run of whole lines with balanced markup; truncation
	// drops units, never splits one.
	var units []string
	add := func(format string, args ...any) {
		units = append(units, fmt.Sprintf(format, args...))
	}

	title := "Shared expenses"
	if v.Group.Title != "" {
		title += " · " + esc(clip(v.Group.Title, MaxTitleRunes))
	}
	add("%s\n\n", title)

	if len(v.Residents) == 0 {
		add("<b>Residents:</b>\n<i>none selected</i>\n\n")
	} else {
		names := make([]string, len(v.Residents))
		for i, m := range v.Residents {
			names[i] = esc(clip(m.Label(), MaxLabelRunes))
		}
		add("<b>Residents:</b>\n%s\n\n", strings.Join(names, " "))
	}

	add("<b>Fixed costs total:</b> %s\n", core.Money(v.FixedTotal))
	for _, e := range v.FixedBreakdown {
		add("  %s %s\n", label(v, e.MemberID), core.Money(e.TotalShare))
	}
	add("\n")

	var lines []string
	for i, e := range v.Balances {
		if i == MaxBalanceLines {
			break
		}
		name := padRight(label(v, e.MemberID), 12)
		switch {
		case e.Net > 0:
			lines = append(lines, fmt.Sprintf("%s  %s (owes)", name, core.Money(e.Net).Signed()))
		case e.Net < 0:
			lines = append(lines, fmt.Sprintf("%s  %s (is owed)", name, core.Money(e.Net).Signed()))
		default:
			lines = append(lines, fmt.Sprintf("%s  %s", name, core.Money(0)))
		}
	}
	if len(lines) == 0 {
		lines = []string{"No balances yet."}
	}
	add("<b>Balances:</b>\n<pre>%s</pre>\n", strings.Join(lines, "\n"))

	lines = lines[:0]
	for i, t := range v.Transfers {
		if i == MaxTransferLines {
			break
		}
		lines = append(lines, fmt.Sprintf("%s → %s: %s", label(v, t.From), label(v, t.To), core.Money(t.Amount)))
	}
	if len(lines) == 0 {
		lines = []string{"Nothing to settle."}
	}
	add("<b>Suggested transfers:</b>\n<pre>%s</pre>\n", strings.Join(lines, "\n"))

	if len(v.Recent) > 0 {
		add("<b>Recent:</b>\n")
		for _, t := range v.Recent {
			line := fmt.Sprintf("%s %s %s by %s", t.CreatedAt.UTC().Format("01-02"), kindLabel(t.Kind), core.Money(t.Amount), label(v, t.PayerID))
			if t.Note != "" {
				line += " · " + esc(t.Note)
			}
			add("%s\n", line)
		}
	}

	footer := fmt.Sprintf("<i>Updated: %s</i>", v.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC"))
	return fit(units, footer, MaxRunes)
}

// fit joins units and footer within limit runes. When they do not fit, the
// units that still fit are kept in order, followed by an ellipsis line.
func fit(units []string, footer string, limit int) string {
	budget := limit - utf8.RuneCountInString(footer)
	total := 0
	for _, u := range units {
		total += utf8.RuneCountInString(u)
	}

	var b strings.Builder
	if total <= budget {
		for _, u := range units {
			b.WriteString(u)
		}
		b.WriteString(footer)
		return b.String()
	}

	budget -= utf8.RuneCountInString(ellipsis)
	used := 0
	for _, u := range units {
		n := utf8.RuneCountInString(u)
		if used+n > budget {
			break
		}
		b.WriteString(u)
		used += n
	}
	b.WriteString(ellipsis)
	b.WriteString(footer)
	return b.String()
}

func label(v core.View, memberID int64) string {
	if m, ok := v.MembersByID[memberID]; ok {
		return esc(clip(m.Label(), MaxLabelRunes))
	}
	return fmt.Sprintf("%d", memberID)
}

func kindLabel(k core.Kind) string {
	switch k {
	case core.KindFixedShared:
		return "fixed"
	case core.KindAdhocShared:
		return "split"
	case core.KindTransfer:
		return "transfer"
	default:
		return strings.ToLower(k.String())
	}
}

func esc(s string) string {
	return html.EscapeString(s)
}

func padRight(s string, n int) string {
	if l := len([]rune(s)); l < n {
		return s + strings.Repeat(" ", n-l)
	}
	return s
}

// clip shortens raw text to n runes. It runs before escaping so entities
// are never cut.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
