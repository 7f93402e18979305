package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/nedpals/davi-device-agent/actions"
	"github.com/nedpals/davi-device-agent/status"
)

// featureCommands maps the console's button commands to feature names.
var featureCommands = map[string]string{
	"nfc":     actions.FeatureNFC,
	"atr":     actions.FeatureSmartCard,
	"watch":   actions.FeatureWatcher,
	"publish": actions.FeaturePublisher,
}

// Console is the interactive front end. Status lines are printed above the
// prompt as they are appended.
type Console struct {
	agent *Agent
	rl    *readline.Instance
	out   io.Writer
}

// newReadline opens the terminal prompt. It is created before the agent so
// component logs can go through rl.Stderr.
func newReadline() (*readline.Instance, error) {
	completer := readline.NewPrefixCompleter(
		readline.PcItem("nfc"),
		readline.PcItem("atr"),
		readline.PcItem("watch"),
		readline.PcItem("publish"),
		readline.PcItem("stop",
			readline.PcItem("all"),
			readline.PcItem(actions.FeatureNFC),
			readline.PcItem(actions.FeatureSmartCard),
			readline.PcItem(actions.FeatureWatcher),
			readline.PcItem(actions.FeaturePublisher),
		),
		readline.PcItem("clear"),
		readline.PcItem("status"),
		readline.PcItem("lines"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "davi> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return rl, nil
}

// NewConsole creates a console for agent on rl.
func NewConsole(agent *Agent, rl *readline.Instance) *Console {
	return &Console{agent: agent, rl: rl, out: rl.Stdout()}
}

// Run reads commands until exit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context) {
	defer c.rl.Close()

	unsubscribe := c.agent.Feed.Subscribe(printEvent(c.out))
	defer unsubscribe()

	c.printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			return
		}
		if quit := c.Execute(line); quit {
			return
		}
	}
}

// Execute runs one command line and reports whether the console should
// exit.
func (c *Console) Execute(line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	if feature, ok := featureCommands[cmd]; ok {
		if err := c.agent.StartFeature(feature); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		return false
	}

	switch cmd {
	case "stop":
		c.cmdStop(args)
	case "clear":
		c.agent.Feed.Clear()
	case "status":
		c.cmdStatus()
	case "lines":
		for _, l := range c.agent.Feed.Label().Lines() {
			fmt.Fprintln(c.out, l)
		}
	case "help", "?":
		c.printHelp()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) cmdStop(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: stop <nfc|smartcard|watcher|publisher|all>")
		return
	}
	if args[0] == "all" {
		c.agent.Features.StopAll()
		return
	}
	if err := c.agent.Features.Stop(args[0]); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
}

func (c *Console) cmdStatus() {
	running := c.agent.Features.Running()
	for _, name := range actions.AllFeatures {
		state := "stopped"
		if running[name] {
			state = "running"
		}
		fmt.Fprintf(c.out, "  %-10s %s\n", name, state)
	}
	if url := c.agent.URL("localhost"); url != "" {
		fmt.Fprintf(c.out, "  %-10s %s\n", "server", url)
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Commands:
  nfc               Read NFC tags
  atr               Read smart card ATRs
  watch             Start the beacon watcher
  publish           Start the beacon publisher
  stop <feature>    Stop nfc, smartcard, watcher, publisher or all
  clear             Clear the status label
  status            Show which features are running
  lines             Print the status label
  help              Show this help
  exit              Quit`)
}

// printEvent renders status events the way the label shows them.
func printEvent(out io.Writer) status.Subscriber {
	return func(ev status.Event) {
		fmt.Fprintln(out, ev.String())
	}
}
