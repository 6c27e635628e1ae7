package router

import (
	"strings"

	kit "reposter/internal/transport"
)

const (
	menuNameMax  = 32
	menuDescMax  = 256
	menuCapacity = 100
)

// sanitizeTelegramCommand maps a command name onto Telegram's [a-z0-9_]{1,32}.
// Runs of other characters collapse to one underscore; a leading digit gets a
// "cmd_" prefix.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	out := b.String()
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > menuNameMax {
		out = strings.TrimRight(out[:menuNameMax], "_")
	}
	return out
}

// buildMenu returns the visible commands for setMyCommands, in registration
// order. Admin-only commands are marked with a lock.
func buildMenu(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	seen := make(map[string]struct{}, len(cmds))
	for _, c := range cmds {
		if c.Hidden || len(out) == menuCapacity {
			continue
		}
		name := sanitizeTelegramCommand(c.Name)
		if _, dup := seen[name]; name == "" || dup {
			continue
		}
		seen[name] = struct{}{}

		desc := strings.Join(strings.Fields(c.Description), " ")
		if desc == "" {
			desc = name
		}
		if c.Access == AccessOwnerOnly {
			desc = "🔒 " + desc
		}
		if r := []rune(desc); len(r) > menuDescMax {
			desc = string(r[:menuDescMax])
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}
	return out
}
