// Package cli implements the interactive shell. Commands that change the
// login flow are posted to the client tick loop.
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

	"github.com/uolink-project/uolink/internal/client"
	"github.com/uolink-project/uolink/internal/config"
	"github.com/uolink-project/uolink/internal/events"
	"github.com/uolink-project/uolink/internal/login"
)

const commandTimeout = 5 * time.Second

var errWrongStep = errors.New("not allowed in the current login step")

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg    *config.Config
	bus    *events.Bus
	client *client.Client
	in     io.Reader
	out    io.Writer
}

// NewCLI creates a shell reading commands from in and writing to out.
func NewCLI(cfg *config.Config, bus *events.Bus, cl *client.Client, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:    cfg,
		bus:    bus,
		client: cl,
		in:     in,
		out:    out,
	}
}

// Start runs the read loop until ctx is cancelled, the input ends or quit
// is entered.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nuolink shell ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

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
		fmt.Fprint(c.out, "uolink> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			cmd := strings.ToLower(parts[0])
			if c.execute(ctx, cmd, parts[1:]) {
				return
			}
		}
	}
}

// execute runs one command and reports whether the shell should exit.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) bool {
	var err error
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "connect":
		err = c.cmdConnect(ctx, args)
	case "servers":
		c.printServers()
	case "select":
		err = c.cmdSelect(ctx, args)
	case "chars", "characters":
		c.printCharacters()
	case "cities":
		c.printCities()
	case "play":
		err = c.cmdPlay(ctx, args)
	case "delete":
		err = c.cmdDelete(ctx, args)
	case "disconnect":
		err = c.run(ctx, func(h *login.Handshake) error {
			h.Disconnect()
			return nil
		})
		if err == nil {
			fmt.Fprintln(c.out, "Disconnected")
		}
	case "reconnect":
		err = c.cmdReconnect(ctx, args)
	case "setconfig":
		err = c.cmdSetConfig(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down uolink...")
		c.bus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return false
}

// run executes cmd on the tick loop.
func (c *CLI) run(ctx context.Context, cmd func(h *login.Handshake) error) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var cmdErr error
	if err := c.client.Exec(ctx, func(h *login.Handshake) { cmdErr = cmd(h) }); err != nil {
		return fmt.Errorf("client loop did not respond: %w", err)
	}
	return cmdErr
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                     uolink Shell Commands                    ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status              Show login step and traffic counters    ║")
	fmt.Fprintln(c.out, "║  connect [user pass] Log in to the configured login server   ║")
	fmt.Fprintln(c.out, "║  servers             List shards with ping and packet loss   ║")
	fmt.Fprintln(c.out, "║  select <idx|name>   Choose a shard                          ║")
	fmt.Fprintln(c.out, "║  chars               List characters                         ║")
	fmt.Fprintln(c.out, "║  cities              List starting cities                    ║")
	fmt.Fprintln(c.out, "║  play <slot>         Enter the world with a character        ║")
	fmt.Fprintln(c.out, "║  delete <slot>       Delete a character                      ║")
	fmt.Fprintln(c.out, "║  disconnect          Close the connection                    ║")
	fmt.Fprintln(c.out, "║  reconnect <on|off>  Toggle automatic reconnect              ║")
	fmt.Fprintln(c.out, "║  setconfig <s.k> <v> Update a configuration value            ║")
	fmt.Fprintln(c.out, "║  quit                Shutdown uolink                         ║")
	fmt.Fprintln(c.out, "║  help                Show this help message                  ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) printStatus() {
	st := c.client.Status()
	h := c.client.Handshake()

	fmt.Fprintf(c.out, "\n  Step:         %s\n", st.Step)
	fmt.Fprintf(c.out, "  Account:      %s\n", st.Account)
	fmt.Fprintf(c.out, "  Address:      %s\n", st.Address)
	fmt.Fprintf(c.out, "  Connected:    %v\n", st.Connected)
	if st.Server != "" {
		fmt.Fprintf(c.out, "  Server:       %s\n", st.Server)
	}
	fmt.Fprintf(c.out, "  Queued:       %d\n", st.Queued)
	fmt.Fprintf(c.out, "  Processed:    %d\n", st.Processed)
	fmt.Fprintf(c.out, "  Bytes in/out: %d / %d\n", st.Traffic.BytesIn, st.Traffic.BytesOut)
	fmt.Fprintf(c.out, "  Ping:         %d ms\n", st.PingMillis)
	if st.Error != "" {
		fmt.Fprintf(c.out, "  Message:      %s\n", st.Error)
	}
	if delay, ok := h.LoginDelay(); ok {
		fmt.Fprintf(c.out, "  Login delay:  %s - %s\n", delay.Min, delay.Max)
	}
	if deadline := h.ReconnectDeadline(); !deadline.IsZero() {
		fmt.Fprintf(c.out, "  Reconnect at: %s\n", deadline.Format(time.RFC3339))
	}
	fmt.Fprintln(c.out)
}

func (c *CLI) printServers() {
	entries := c.client.Handshake().Servers()
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No server list received")
		return
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Index", "Name", "Full", "TZ", "Ping", "Avg", "Loss"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, e := range entries {
		p := e.Ping()
		last, avg := "-", "-"
		if p.Reachable && p.LastMs >= 0 {
			last = fmt.Sprintf("%d ms", p.LastMs)
		}
		if p.AverageMs > 0 {
			avg = fmt.Sprintf("%d ms", p.AverageMs)
		}
		tw.Append([]string{
			strconv.Itoa(int(e.Index)),
			e.Name,
			fmt.Sprintf("%d%%", e.PercentFull),
			strconv.Itoa(int(e.Timezone)),
			last,
			avg,
			fmt.Sprintf("%d%%", p.PacketLoss),
		})
	}
	tw.Render()
}

func (c *CLI) printCharacters() {
	names := c.client.Handshake().Characters()
	if len(names) == 0 {
		fmt.Fprintln(c.out, "No character list received")
		return
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Slot", "Name"})
	tw.SetBorder(true)
	for i, n := range names {
		if n == "" {
			n = "<empty>"
		}
		tw.Append([]string{strconv.Itoa(i), n})
	}
	tw.Render()
}

func (c *CLI) printCities() {
	cities := c.client.Handshake().Cities()
	if len(cities) == 0 {
		fmt.Fprintln(c.out, "No starting cities received")
		return
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Index", "City", "Building", "Location", "Map"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, city := range cities {
		tw.Append([]string{
			strconv.Itoa(int(city.Index)),
			city.Name,
			city.Building,
			fmt.Sprintf("%d,%d,%d", city.X, city.Y, city.Z),
			strconv.Itoa(int(city.Map)),
		})
	}
	tw.Render()
}

func (c *CLI) cmdConnect(ctx context.Context, args []string) error {
	loginCfg := c.cfg.GetLogin()
	account, password := loginCfg.Username, c.cfg.Password()
	switch len(args) {
	case 0:
	case 2:
		account, password = args[0], args[1]
	default:
		return fmt.Errorf("usage: connect [user pass]")
	}
	if account == "" {
		return fmt.Errorf("no account configured")
	}

	err := c.run(ctx, func(h *login.Handshake) error {
		if h.Step() == login.Connecting {
			return errWrongStep
		}
		h.Connect(account, password, loginCfg.IP, uint16(loginCfg.Port))
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Connecting to %s:%d as %s\n", loginCfg.IP, loginCfg.Port, account)
	return nil
}

func (c *CLI) cmdSelect(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: select <index|name>")
	}
	arg := strings.Join(args, " ")

	var name string
	err := c.run(ctx, func(h *login.Handshake) error {
		if h.Step() != login.ServerSelection {
			return errWrongStep
		}
		index, ok := resolveServer(h, arg)
		if !ok {
			return fmt.Errorf("server not found: %s", arg)
		}
		h.SelectServer(index, "")
		_, name = h.SelectedServer()
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Selected %s\n", name)
	return nil
}

// resolveServer accepts a list index or a shard name.
func resolveServer(h *login.Handshake, arg string) (uint16, bool) {
	if n, err := strconv.ParseUint(arg, 10, 16); err == nil {
		for _, e := range h.Servers() {
			if e.Index == uint16(n) {
				return e.Index, true
			}
		}
	}
	return h.ServerIndexByName(arg)
}

func (c *CLI) cmdPlay(ctx context.Context, args []string) error {
	slot, err := parseSlotArg(args)
	if err != nil {
		return err
	}

	var name string
	err = c.run(ctx, func(h *login.Handshake) error {
		if h.Step() != login.CharacterSelection {
			return errWrongStep
		}
		chars := h.Characters()
		if slot >= len(chars) || chars[slot] == "" {
			return fmt.Errorf("character slot %d is empty", slot)
		}
		name = chars[slot]
		h.SendSelectCharacter(slot)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Entering world as %s\n", name)
	return nil
}

func (c *CLI) cmdDelete(ctx context.Context, args []string) error {
	slot, err := parseSlotArg(args)
	if err != nil {
		return err
	}

	err = c.run(ctx, func(h *login.Handshake) error {
		if h.Step() != login.CharacterSelection {
			return errWrongStep
		}
		chars := h.Characters()
		if slot >= len(chars) || chars[slot] == "" {
			return fmt.Errorf("character slot %d is empty", slot)
		}
		h.SendDeleteCharacter(slot)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Delete requested for slot %d\n", slot)
	return nil
}

func (c *CLI) cmdReconnect(ctx context.Context, args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return fmt.Errorf("usage: reconnect <on|off>")
	}
	enabled := args[0] == "on"

	if err := c.cfg.UpdateField("reconnect", "enabled", enabled); err != nil {
		return err
	}
	if err := c.run(ctx, func(h *login.Handshake) error {
		h.SetReconnect(enabled)
		return nil
	}); err != nil {
		return err
	}
	if err := c.cfg.Save(); err != nil {
		log.Warn().Err(err).Msg("CLI: failed to save config")
	}
	fmt.Fprintf(c.out, "Reconnect %s\n", args[0])
	return nil
}

func (c *CLI) cmdSetConfig(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <section.key> <value>")
	}
	section, key, ok := strings.Cut(args[0], ".")
	if !ok {
		return fmt.Errorf("field must be section.key, got %q", args[0])
	}

	raw := strings.Join(args[1:], " ")
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	previous, _ := c.cfg.Field(section, key)
	if err := c.cfg.UpdateField(section, key, value); err != nil {
		return err
	}
	if result := config.Validate(c.cfg); !result.IsValid() {
		if rerr := c.cfg.UpdateField(section, key, previous); rerr != nil {
			log.Error().Err(rerr).Str("field", args[0]).Msg("CLI: failed to restore config field")
		}
		return result.Errors[0]
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Config updated: %s = %s (restart to apply)\n", args[0], raw)
	return nil
}

func parseSlotArg(args []string) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("character slot required")
	}
	slot, err := strconv.Atoi(args[0])
	if err != nil || slot < 0 {
		return 0, fmt.Errorf("invalid slot: %s", args[0])
	}
	return slot, nil
}
