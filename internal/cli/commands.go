// Package cli implements the interactive operator console and the table
// output shared with the one-shot query mode.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/sourcequery-project/sourcequery/internal/config"
	"github.com/sourcequery-project/sourcequery/internal/events"
	"github.com/sourcequery-project/sourcequery/internal/health"
	"github.com/sourcequery-project/sourcequery/internal/network"
	"github.com/sourcequery-project/sourcequery/internal/protocol"
	"github.com/sourcequery-project/sourcequery/internal/server"
)

const remoteQueryTimeout = 5 * time.Second

// StatsSource reports responder counters.
type StatsSource interface {
	Stats() network.ResponderStats
}

// HealthSource reports the last self-test outcome.
type HealthSource interface {
	Status() health.Status
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	state    *server.GameState
	stats    StatsSource
	health   HealthSource
	eventBus *events.EventBus
	client   *network.QueryClient

	in  io.Reader
	out io.Writer
}

// NewCLI creates a new CLI handler. stats and healthSrc may be nil.
func NewCLI(cfg *config.Config, state *server.GameState, stats StatsSource, healthSrc HealthSource, eventBus *events.EventBus, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		state:    state,
		stats:    stats,
		health:   healthSrc,
		eventBus: eventBus,
		client:   network.NewQueryClient(remoteQueryTimeout),
		in:       in,
		out:      out,
	}
}

// Start reads commands until ctx is cancelled or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nsourcequery console ready. Type 'help' for available commands.")

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
	}()

	for {
		fmt.Fprint(c.out, "sourcequery> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				log.Debug().Msg("CLI input closed")
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			if err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "players", "p":
		c.printPlayers()
	case "rules", "r":
		return c.printRules()
	case "stats":
		c.printStats()
	case "query":
		return c.cmdQuery(ctx, args)
	case "setquery":
		return c.cmdSetQuery(args)
	case "update":
		c.eventBus.Emit(ctx, events.Event{Type: events.EventUpdateCheckRequested, Source: "cli"})
		fmt.Fprintln(c.out, "Update check requested")
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down...")
		c.eventBus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  status               Show the served server info
  players              List connected players
  rules                List the served rules
  stats                Show query responder counters
  query <host:port>    Query any A2S server and print the answers
  setquery <key> <v>   Update a query_data setting and save it
  update               Check for a new release now
  quit                 Shut down
  help                 Show this help message`)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus() {
	snap := c.state.Snapshot()
	q := c.cfg.GetQueryData()

	tw := newTable(c.out, "Field", "Value")
	tw.Append([]string{"Name", snap.Info.Name})
	tw.Append([]string{"Map", snap.Info.Map})
	tw.Append([]string{"Players", fmt.Sprintf("%d/%d", snap.Info.Players, snap.Info.MaxPlayers)})
	tw.Append([]string{"Version", snap.Info.Version})
	tw.Append([]string{"Game port", strconv.Itoa(snap.Info.GamePort)})
	tw.Append([]string{"Query port", strconv.Itoa(q.ResolvedQueryPort())})
	tw.Append([]string{"Rules", strconv.Itoa(snap.RuleCount)})
	tw.Append([]string{"Uptime", snap.Uptime})
	if c.health != nil {
		st := c.health.Status()
		result := "pending"
		if !st.LastSelfTest.IsZero() {
			result = "ok"
			if !st.SelfTestOK {
				result = "failing: " + st.LastError
			}
		}
		tw.Append([]string{"Self-test", result})
	}
	tw.Render()
}

func (c *CLI) printPlayers() {
	players := c.state.PlayerList()
	if len(players) == 0 {
		fmt.Fprintln(c.out, "No players connected")
		return
	}

	tw := newTable(c.out, "#", "Name", "Connected")
	now := time.Now()
	for i, p := range players {
		tw.Append([]string{
			strconv.Itoa(i + 1),
			p.Name,
			now.Sub(p.JoinedAt).Truncate(time.Second).String(),
		})
	}
	tw.Render()
}

func (c *CLI) printRules() error {
	rules, err := c.state.Rules()
	if err != nil {
		return err
	}
	tw := newTable(c.out, "Rule", "Value")
	for _, r := range rules {
		tw.Append([]string{r.Name, r.Value})
	}
	tw.Render()
	return nil
}

func (c *CLI) printStats() {
	if c.stats == nil {
		fmt.Fprintln(c.out, "Query responder is not running")
		return
	}
	s := c.stats.Stats()
	tw := newTable(c.out, "Received", "Sent", "Unanswered", "Read errors", "Write errors")
	tw.Append([]string{
		strconv.FormatUint(s.Received, 10),
		strconv.FormatUint(s.Sent, 10),
		strconv.FormatUint(s.Unanswered, 10),
		strconv.FormatUint(s.ReadErrors, 10),
		strconv.FormatUint(s.WriteErrors, 10),
	})
	tw.Render()
}

func (c *CLI) cmdQuery(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: query <host:port>")
	}
	return QueryAndPrint(ctx, c.client, args[0], c.out)
}

// cmdSetQuery updates one query_data field. Values that parse as integers
// or booleans are stored as such.
func (c *CLI) cmdSetQuery(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setquery <key> <value>")
	}
	key := args[0]
	raw := strings.Join(args[1:], " ")

	var value interface{} = raw
	if n, err := strconv.Atoi(raw); err == nil {
		value = n
	} else if b, err := strconv.ParseBool(raw); err == nil {
		value = b
	}

	before := c.cfg.GetQueryData()
	if err := c.cfg.UpdateQueryFields(map[string]interface{}{key: value}); err != nil {
		return err
	}
	if result := config.Validate(c.cfg); !result.IsValid() {
		c.cfg.SetQueryData(before)
		return result.Errors[0]
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Config updated: %s = %v (restart to apply port changes)\n", key, value)
	return nil
}

// QueryAndPrint queries a remote A2S server and prints info, players and
// rules as tables. Players and rules failures are printed, not returned,
// since many servers answer only the info query.
func QueryAndPrint(ctx context.Context, client *network.QueryClient, addr string, w io.Writer) error {
	info, err := client.Info(ctx, addr)
	if err != nil {
		return fmt.Errorf("info query failed: %w", err)
	}
	PrintInfo(w, info)

	if players, err := client.Players(ctx, addr); err != nil {
		fmt.Fprintf(w, "players query failed: %v\n", err)
	} else {
		PrintPlayers(w, players)
	}

	if rules, err := client.Rules(ctx, addr); err != nil {
		fmt.Fprintf(w, "rules query failed: %v\n", err)
	} else {
		PrintRules(w, rules)
	}
	return nil
}

// PrintInfo renders a decoded A2S_INFO response.
func PrintInfo(w io.Writer, info *protocol.InfoResponse) {
	tw := newTable(w, "Field", "Value")
	tw.Append([]string{"Name", info.Name})
	tw.Append([]string{"Map", info.Map})
	tw.Append([]string{"Game", fmt.Sprintf("%s (%s)", info.Game, info.Folder)})
	tw.Append([]string{"Players", fmt.Sprintf("%d/%d (%d bots)", info.Players, info.MaxPlayers, info.Bots)})
	tw.Append([]string{"Version", info.Version})
	tw.Append([]string{"Protocol", strconv.Itoa(int(info.Protocol))})
	tw.Append([]string{"Server type", protocol.ServerTypeName(info.ServerType)})
	tw.Append([]string{"Environment", protocol.EnvironmentName(info.Environment)})
	if info.ExtraFlags&protocol.FlagGamePort != 0 {
		tw.Append([]string{"Game port", strconv.Itoa(int(info.GamePort))})
	}
	tw.Render()
}

// PrintPlayers renders a decoded A2S_PLAYER response.
func PrintPlayers(w io.Writer, players []protocol.PlayerEntry) {
	if len(players) == 0 {
		fmt.Fprintln(w, "No players")
		return
	}
	tw := newTable(w, "#", "Name", "Score", "Duration")
	for i, p := range players {
		tw.Append([]string{
			strconv.Itoa(i + 1),
			p.Name,
			strconv.Itoa(int(p.Score)),
			time.Duration(float64(p.Duration) * float64(time.Second)).Truncate(time.Second).String(),
		})
	}
	tw.Render()
}

// PrintRules renders a decoded A2S_RULES response.
func PrintRules(w io.Writer, rules []protocol.RuleEntry) {
	tw := newTable(w, "Rule", "Value")
	for _, r := range rules {
		tw.Append([]string{r.Name, r.Value})
	}
	tw.Render()
}
