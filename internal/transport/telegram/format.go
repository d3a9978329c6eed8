package telegram

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"pewsched/internal/condition"
	"pewsched/internal/eventbus"
	"pewsched/internal/task/scheduler"
)

// Output is HTML parse mode. Everything user-controlled goes through esc.

func esc(s string) string  { return html.EscapeString(s) }
func bold(s string) string { return "<b>" + esc(s) + "</b>" }
func code(s string) string { return "<code>" + esc(s) + "</code>" }

// truncRunes cuts s to n runes and marks the cut with an ellipsis.
func truncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	rs := []rune(s)
	return string(rs[:n]) + "…"
}

// shortID is the prefix operators type to address an entry.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func stateIcon(s scheduler.State) string {
	switch s {
	case scheduler.StateRunning, scheduler.StateWaitingForStopCondition:
		return "▶️"
	case scheduler.StateStopping:
		return "⏹"
	case scheduler.StateWaitingForStartCondition:
		return "⏳"
	case scheduler.StateError:
		return "❌"
	case scheduler.StateShutdown:
		return "💤"
	default:
		return "✅"
	}
}

func renderStatus(v scheduler.View) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <b>%s</b>", stateIcon(v.State), esc(v.State.String()))
	if v.Paused {
		sb.WriteString(" (paused)")
	}
	sb.WriteString("\n")
	if v.LastError != "" {
		fmt.Fprintf(&sb, "error: %s\n", code(truncRunes(v.LastError, 300)))
	}

	label := func(id string) string {
		if e, ok := v.Entry(id); ok {
			return bold(e.Name) + " " + code(shortID(e.ID))
		}
		return code(shortID(id))
	}
	if v.Current != "" {
		fmt.Fprintf(&sb, "current: %s\n", label(v.Current))
	}
	if v.AwaitingConfirmation != "" {
		fmt.Fprintf(&sb, "awaiting /confirm: %s\n", label(v.AwaitingConfirmation))
	} else if v.Pending != "" && v.Pending != v.Current {
		fmt.Fprintf(&sb, "pending: %s\n", label(v.Pending))
	}
	if v.Next != "" {
		fmt.Fprintf(&sb, "next: %s\n", label(v.Next))
	}

	if len(v.Entries) == 0 {
		sb.WriteString("\n<i>plan is empty</i>")
		return sb.String()
	}
	sb.WriteString("\n")
	for _, e := range v.Entries {
		sb.WriteString(renderEntryLine(e))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderEntryLine(e scheduler.EntryView) string {
	icon := "•"
	switch {
	case e.Running:
		icon = "▶️"
	case !e.Enabled:
		icon = "⏸"
	}
	line := fmt.Sprintf("%s %s %s %s", icon, code(shortID(e.ID)), bold(e.Name), esc(e.NextRunText))
	if e.Priority != 0 {
		line += fmt.Sprintf(" p%d", e.Priority)
	}
	if e.Default {
		line += " default"
	}
	return line
}

func renderEntry(e scheduler.EntryView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", bold(e.Name), code(e.ID))
	fmt.Fprintf(&sb, "cadence: %s\n", esc(e.IntervalText))
	fmt.Fprintf(&sb, "next: %s\n", esc(e.NextRunText))
	fmt.Fprintf(&sb, "last: %s", esc(e.LastRunText))
	if e.LastStopReason != "" {
		fmt.Fprintf(&sb, " (%s)", esc(string(e.LastStopReason)))
	}
	sb.WriteString("\n")
	runs := fmt.Sprintf("%d", e.RunCount)
	if e.MaxRuns > 0 {
		runs += fmt.Sprintf("/%d", e.MaxRuns)
	}
	fmt.Fprintf(&sb, "runs: %s  priority: %d  enabled: %t\n", runs, e.Priority, e.Enabled)
	if e.Unsupervised {
		if e.Confirmed {
			sb.WriteString("no stop conditions (confirmed)\n")
		} else {
			sb.WriteString("no stop conditions, needs /confirm\n")
		}
	}
	sb.WriteString(renderGate("start", e.Start))
	sb.WriteString(renderGate("stop", e.Stop))
	return strings.TrimRight(sb.String(), "\n")
}

func renderGate(name string, g scheduler.GateView) string {
	mode := "ALL"
	if !g.RequireAll {
		mode = "ANY"
	}
	s := fmt.Sprintf("%s [%s] %d/%d met, %.0f%%: %s\n", bold(name), mode, g.Met, g.Total, g.Progress, esc(truncRunes(g.Description, 400)))
	for _, err := range g.Errors {
		s += "  ⚠️ " + esc(truncRunes(err, 200)) + "\n"
	}
	return s
}

// renderEvent turns a bus event into a chat notification. State changes are
// too chatty and are not forwarded.
func renderEvent(ev eventbus.Event) (string, bool) {
	switch ev.Type {
	case eventbus.TypeEntryStarted:
		p, ok := ev.Data.(scheduler.EntryEvent)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("▶️ started %s %s (run %d)", bold(p.Name), code(shortID(p.ID)), p.RunCount+1), true
	case eventbus.TypeEntryStopped:
		p, ok := ev.Data.(scheduler.EntryEvent)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("⏹ stopped %s %s: %s after %s", bold(p.Name), code(shortID(p.ID)), esc(string(p.Reason)), esc(condition.FormatDuration(p.Duration))), true
	case eventbus.TypeConfirmRequired:
		p, ok := ev.Data.(scheduler.EntryEvent)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("⚠️ %s has no stop conditions and will run until stopped by hand.\nSend %s to start it.", bold(p.Name), code("/confirm "+shortID(p.ID))), true
	case eventbus.TypeSchedulerError:
		p, ok := ev.Data.(scheduler.ErrorEvent)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("❌ scheduler entered ERROR\n%s\nSend /reset once fixed.", code(truncRunes(p.Err, 500))), true
	}
	return "", false
}
