package campaign

import (
	"fmt"
	"math"
)

// Render turns a Result into the chat reply. An empty string means no reply.
func Render(r Result) string {
	switch r.Code {
	case CodeRateLimited:
		return fmt.Sprintf("⏳ Please wait %d seconds before using this command again.", int(math.Ceil(r.Wait.Seconds())))
	case CodeAlreadyActive:
		return "⚠️ A tagging session is already active in this group!\nUse /qwerty to stop it first."
	case CodeNoTargets:
		return "❌ No members with usernames found to tag.\nAdmins can run /collect to refresh the member list."
	case CodeUnavailable:
		return fmt.Sprintf("❌ Something went wrong: <code>%s</code>", esc(excerpt(r.Err, errExcerptLen)))
	case CodeDenied:
		return deniedText(r.Reason)
	case CodeInvalidInput:
		return invalidText(r)
	case CodeNotFound:
		if r.Op == OpStatus {
			return "📊 No active tagging session in this group."
		}
		return "❌ No active tagging session in this group."
	}

	switch r.Op {
	case OpStart:
		// The confirmation message is sent by the service itself.
		return ""
	case OpStop:
		if r.Session == nil {
			return ""
		}
		return stoppedText(*r.Session, r.StoppedBy)
	case OpStatus:
		if r.Session == nil {
			return ""
		}
		return statusText(*r.Session)
	case OpCollect:
		return fmt.Sprintf("✅ Collected %d members from the administrator list.\nRegular members are added as they chat.", r.Collected)
	case OpStats:
		if r.Stats == nil {
			return ""
		}
		last := "never"
		if !r.Stats.LastSeen.IsZero() {
			last = r.Stats.LastSeen.UTC().Format("2006-01-02 15:04 MST")
		}
		return fmt.Sprintf("📈 <b>Member Directory</b>\n\n"+
			"<b>Known members:</b> %d\n"+
			"<b>With username:</b> %d\n"+
			"<b>Last activity:</b> %s\n"+
			"<b>Active sessions:</b> %d",
			r.Stats.Total, r.Stats.WithHandle, last, r.Stats.ActiveSessions)
	}
	return ""
}

func deniedText(reason Reason) string {
	switch reason {
	case ReasonBotNotAdmin:
		return "❌ I need to be an admin in this group to tag members!"
	case ReasonNotStarter:
		return "❌ Only admins or the person who started tagging can stop it!"
	default:
		return "❌ Only group admins can use this command!"
	}
}

func invalidText(r Result) string {
	switch r.Reason {
	case ReasonGroupOnly:
		return "❌ This command only works in groups!"
	case ReasonEmptyMessage:
		return "❌ Please provide a message!\nUsage: <code>/qwert your message here</code>"
	case ReasonMessageTooLong:
		return fmt.Sprintf("❌ Message too long! Maximum %d characters.", r.Limit)
	default:
		return "❌ Invalid input."
	}
}
