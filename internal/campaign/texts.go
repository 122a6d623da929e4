package campaign

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
)

// ParseMode used for every message this package renders.
const ParseMode = "HTML"

const errExcerptLen = 100

func esc(s string) string { return html.EscapeString(s) }

// batchText renders one outbound batch and reports how many mentions it holds.
func batchText(message string, batch []Target) (string, int) {
	var b strings.Builder
	b.WriteString("📢 <b>")
	b.WriteString(esc(message))
	b.WriteString("</b>\n")
	n := 0
	for _, t := range batch {
		h := strings.TrimPrefix(strings.TrimSpace(t.Handle), "@")
		if h == "" {
			continue
		}
		b.WriteString("\n@")
		b.WriteString(esc(h))
		n++
	}
	return b.String(), n
}

func secs(d time.Duration) int { return int(d / time.Second) }

func confirmText(s Snapshot) string {
	return fmt.Sprintf("🚀 <b>Starting Tagging Session</b>\n\n"+
		"<b>Message:</b> %s\n"+
		"<b>Started by:</b> %s\n"+
		"<b>Members:</b> %d\n"+
		"<b>Status:</b> Initializing...\n\n"+
		"Use /qwerty to stop at any time.",
		esc(s.Message), esc(s.OperatorName), s.Total)
}

func progressText(s Snapshot) string {
	return fmt.Sprintf("🚀 <b>Tagging In Progress</b>\n\n"+
		"<b>Message:</b> %s\n"+
		"<b>Total Members:</b> %d\n"+
		"<b>Progress:</b> %d/%d (%.1f%%)\n"+
		"<b>Status:</b> Tagging...",
		esc(s.Message), s.Total, s.Dispatched, s.Total, s.Percent())
}

func completedText(s Snapshot) string {
	return fmt.Sprintf("✅ <b>Tagging Completed!</b>\n\n"+
		"<b>Message:</b> %s\n"+
		"<b>Tagged:</b> %d members\n"+
		"<b>Total:</b> %d members\n"+
		"<b>Duration:</b> %d seconds",
		esc(s.Message), s.Dispatched, s.Total, secs(s.Elapsed))
}

func timedOutText(s Snapshot, limit time.Duration) string {
	return fmt.Sprintf("⏰ <b>Time Limit Reached!</b>\n"+
		"Maximum tagging time (%s) exceeded.\n\n"+
		"<b>Tagged:</b> %d/%d members",
		humanDuration(limit), s.Dispatched, s.Total)
}

func failedText(s Snapshot, err error) string {
	return fmt.Sprintf("❌ <b>Tagging Error</b>\n\n"+
		"An error occurred: <code>%s</code>\n"+
		"<b>Tagged:</b> %d/%d members\n"+
		"Please try again later.",
		esc(excerpt(err, errExcerptLen)), s.Dispatched, s.Total)
}

func stoppedText(s Snapshot, by string) string {
	return fmt.Sprintf("🛑 <b>Tagging Stopped</b>\n\n"+
		"<b>Tagged:</b> %d members\n"+
		"<b>Duration:</b> %d seconds\n"+
		"<b>Stopped by:</b> %s",
		s.Dispatched, secs(s.Elapsed), esc(by))
}

func statusText(s Snapshot) string {
	state := "Active ✅"
	if !s.Active {
		state = "Stopped ⏹️"
	}
	return fmt.Sprintf("📊 <b>Active Tagging Session</b>\n\n"+
		"<b>Message:</b> %s\n"+
		"<b>Started:</b> %s\n"+
		"<b>Duration:</b> %d seconds\n"+
		"<b>Tagged:</b> %d/%d members\n"+
		"<b>Progress:</b> %.1f%%\n"+
		"<b>Status:</b> %s\n"+
		"<b>Started by:</b> <code>%d</code>",
		esc(s.Message), s.CreatedAt.Format("15:04:05"), secs(s.Elapsed),
		s.Dispatched, s.Total, s.Percent(), state, s.OperatorID)
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		if m := int(d / time.Minute); m != 1 {
			return fmt.Sprintf("%d minutes", m)
		}
		return "1 minute"
	case d%time.Second == 0:
		return fmt.Sprintf("%d seconds", secs(d))
	default:
		return d.String()
	}
}

func excerpt(err error, n int) string {
	if err == nil {
		return ""
	}
	s := strings.TrimSpace(err.Error())
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
