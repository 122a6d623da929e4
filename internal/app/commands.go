package app

import (
	"context"
	"strings"
	"time"

	"tagbot/internal/campaign"
	kit "tagbot/internal/transport"
	"tagbot/internal/transport/telegram/router"
)

const welcomeText = `🤖 <b>Welcome to Universal Tagging Bot!</b>

I can help group admins tag all members with important announcements.

<b>Commands:</b>
/qwert [message] - Start tagging all members with your message
/qwerty - Stop ongoing tagging process
/status - Check current tagging status
/stats - Member directory statistics
/collect - Refresh the member directory from the admin list
/help - List all commands

<b>Important Notes:</b>
• Only group admins can use tagging commands
• Use responsibly to avoid spam

<b>Example:</b>
<code>/qwert Important announcement: Meeting at 5 PM</code>`

// commands is the router table. Handlers translate the chat request into an
// Actor, call the campaign service and reply with the rendered result.
func (a *App) commands() []router.Command {
	svc := a.campaigns
	reply := func(ctx context.Context, req *router.Request, res campaign.Result) error {
		return req.Reply(ctx, campaign.Render(res))
	}
	return []router.Command{
		{
			Name:        "start",
			Description: "show the welcome message",
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, welcomeText)
			},
		},
		{
			Name:        "qwert",
			Aliases:     []string{"tag"},
			Description: "start tagging all members with a message",
			Usage:       "/qwert <message>",
			// Only the setup runs under this timeout; the dispatcher has its own context.
			Timeout: 30 * time.Second,
			Handle: func(ctx context.Context, req *router.Request) error {
				return reply(ctx, req, svc.StartCampaign(ctx, actorOf(req), req.Args))
			},
		},
		{
			Name:        "qwerty",
			Aliases:     []string{"stoptag"},
			Description: "stop the ongoing tagging",
			Handle: func(ctx context.Context, req *router.Request) error {
				return reply(ctx, req, svc.StopCampaign(ctx, actorOf(req)))
			},
		},
		{
			Name:        "status",
			Description: "show tagging progress",
			Handle: func(ctx context.Context, req *router.Request) error {
				return reply(ctx, req, svc.Status(ctx, actorOf(req)))
			},
		},
		{
			Name:        "stats",
			Description: "member directory statistics",
			Handle: func(ctx context.Context, req *router.Request) error {
				return reply(ctx, req, svc.DirectoryStats(ctx, actorOf(req)))
			},
		},
		{
			Name:        "collect",
			Description: "refresh the member directory",
			Timeout:     45 * time.Second,
			Handle: func(ctx context.Context, req *router.Request) error {
				return reply(ctx, req, svc.Collect(ctx, actorOf(req)))
			},
		},
	}
}

func actorOf(req *router.Request) campaign.Actor {
	act := campaign.Actor{Chat: req.Chat, UserID: req.FromID}
	m := req.Message
	if m == nil {
		return act
	}
	act.IsGroup = m.IsGroup
	act.MessageID = m.ID
	act.Username = m.FromUsername
	act.Name = strings.TrimSpace(m.FromFirstName + " " + m.FromLastName)
	if act.Chat == (kit.ChatTarget{}) {
		act.Chat = kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	}
	return act
}
