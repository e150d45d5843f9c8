// Package cli implements the interactive operator console: live connection
// tables, kicks, announcements and server settings.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/blockgate-project/blockgate/internal/config"
	"github.com/blockgate-project/blockgate/internal/db"
	"github.com/blockgate-project/blockgate/internal/events"
	"github.com/blockgate-project/blockgate/internal/network"
	"github.com/blockgate-project/blockgate/internal/protocol"
)

const operatorName = "console"

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	game     *network.Server
	journal  *db.SessionJournal

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
// journal may be nil.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, game *network.Server, journal *db.SessionJournal, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		game:     game,
		journal:  journal,
		in:       in,
		out:      out,
	}
}

// Start reads commands until ctx is cancelled or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nBlockgate console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("CLI: input error, console disabled")
		}
	}()

	for {
		fmt.Fprint(c.out, "blockgate> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.Execute(ctx, line); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute runs one command line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "list", "ls":
		return c.printConnections(args)
	case "kick":
		return c.cmdKick(ctx, args)
	case "say":
		return c.cmdSay(ctx, args)
	case "sessions":
		return c.printSessions(args)
	case "motd":
		return c.cmdSetConfig(ctx, append([]string{"motd"}, args...))
	case "setconfig":
		return c.cmdSetConfig(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down blockgate...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
Commands:
  status                 Show listener and connection counts
  list [phase]           List live connections
  kick <id|name> [why]   Disconnect a connection
  say <message>          Announce a message to every player
  sessions [n]           Show the n most recent sessions
  motd <text>            Change the server list message
  setconfig <key> <val>  Update a server setting
  quit                   Shut down blockgate
  help                   Show this help message`)
}

func (c *CLI) printStatus() {
	serverCfg := c.cfg.GetServer()
	conns := c.game.Connections()

	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "  Listener:     %s\n", listenerAddr(c.game, serverCfg))
	fmt.Fprintf(c.out, "  MOTD:         %s\n", serverCfg.MOTD)
	fmt.Fprintf(c.out, "  Version:      %s (%d)\n", serverCfg.VersionName, serverCfg.ProtocolVersion)
	fmt.Fprintf(c.out, "  Players:      %d/%d\n", conns.CountInPhase(protocol.PhasePlay), serverCfg.MaxPlayers)
	fmt.Fprintf(c.out, "  Connections:  %d\n", conns.Count())
	if started := c.game.StartedAt(); !started.IsZero() {
		fmt.Fprintf(c.out, "  Uptime:       %s\n", time.Since(started).Truncate(time.Second))
	}

	byPhase := conns.CountByPhase()
	for _, p := range protocol.Phases {
		fmt.Fprintf(c.out, "    %-12s %d\n", p.String()+":", byPhase[p.String()])
	}
	fmt.Fprintln(c.out)
}

func listenerAddr(game *network.Server, serverCfg config.ServerConfig) string {
	if addr := game.Addr(); addr != nil {
		return addr.String()
	}
	return serverCfg.Addr() + " (not bound)"
}

func (c *CLI) printConnections(args []string) error {
	var infos []network.ConnectionInfo
	if len(args) > 0 {
		var phase protocol.Phase
		if err := phase.UnmarshalText([]byte(strings.ToLower(args[0]))); err != nil {
			return fmt.Errorf("unknown phase: %s", args[0])
		}
		for _, conn := range c.game.Connections().InPhase(phase) {
			infos = append(infos, conn.Info())
		}
	} else {
		infos = c.game.Connections().Snapshot()
	}

	if len(infos) == 0 {
		fmt.Fprintln(c.out, "No connections")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"ID", "Remote", "Phase", "Player", "Latency", "Connected"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, info := range infos {
		player := info.Username
		if player == "" {
			player = "-"
		}
		tw.Append([]string{
			info.ID,
			info.RemoteAddr,
			info.Phase.String(),
			player,
			fmt.Sprintf("%dms", info.LatencyMS),
			time.Since(info.ConnectedAt).Truncate(time.Second).String(),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdKick(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kick <id|name> [reason]")
	}
	reason := strings.Join(args[1:], " ")

	info, err := c.game.Kick(ctx, args[0], reason, operatorName)
	if err != nil {
		if errors.Is(err, network.ErrConnectionNotFound) {
			return fmt.Errorf("no connection matches %s", args[0])
		}
		return err
	}

	who := info.Username
	if who == "" {
		who = info.ID
	}
	fmt.Fprintf(c.out, "Kicked %s\n", who)
	return nil
}

func (c *CLI) cmdSay(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: say <message>")
	}
	sent := c.game.Announce(ctx, strings.Join(args, " "), operatorName)
	fmt.Fprintf(c.out, "Message sent to %d player(s)\n", sent)
	return nil
}

func (c *CLI) printSessions(args []string) error {
	if c.journal == nil {
		return fmt.Errorf("session journal is disabled")
	}

	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	sessions, err := c.journal.Recent(limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(c.out, "No sessions recorded")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Opened", "Remote", "Player", "Phase", "Duration", "Reason"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, s := range sessions {
		player := s.Username
		if player == "" {
			player = "-"
		}
		duration, reason := "open", "-"
		if !s.Open() {
			duration = (time.Duration(s.DurationMS) * time.Millisecond).String()
			reason = s.CloseReason
		}
		tw.Append([]string{
			s.OpenedAt.Format("2006-01-02 15:04:05"),
			s.RemoteAddr,
			player,
			s.FinalPhase,
			duration,
			reason,
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdSetConfig(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <key> <value>")
	}

	key := args[0]
	raw := strings.Join(args[1:], " ")
	value := parseValue(raw)

	if err := c.cfg.UpdateServerField(key, value); err != nil {
		return err
	}
	if c.cfg.Path() != "" {
		if err := c.cfg.Save(); err != nil {
			return err
		}
	}

	c.eventBus.Emit(ctx, events.Event{
		Type:   events.EventConfigChanged,
		Source: "cli",
		Payload: events.ConfigChangedPayload{
			Section: "server",
			Key:     key,
			Value:   value,
		},
	})
	fmt.Fprintf(c.out, "Config updated: %s = %s\n", key, raw)
	return nil
}

// parseValue reads numbers and booleans as JSON and keeps everything else
// as a plain string.
func parseValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch v.(type) {
		case float64, bool:
			return v
		}
	}
	return raw
}
