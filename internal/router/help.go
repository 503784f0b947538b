package router

import (
	"strings"

	"dicebot/internal/host"
)

// helpLines renders the help listing for caller. Commands the caller may not
// use are hidden.
func (m *CommandManager) helpLines(caller host.Caller, args []string) []string {
	if len(args) > 0 {
		word := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c, ok := m.lookup(word)
		if !ok || !allowed(caller, c) {
			return []string{msgUnknown}
		}
		lines := []string{"&e/" + c.Route + " &7- " + c.Description}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "&eUsage: &f"+u)
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "&eAliases: &f"+strings.Join(c.Aliases, ", "))
		}
		return lines
	}

	lines := []string{"&eCommands:"}
	for _, c := range m.Commands() {
		if !allowed(caller, &c) {
			continue
		}
		line := "&f/" + c.Route
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " &7- " + d
		}
		lines = append(lines, line)
	}
	return lines
}

func allowed(caller host.Caller, c *Command) bool {
	return c.Permission == "" || (caller != nil && caller.HasPermission(c.Permission))
}
