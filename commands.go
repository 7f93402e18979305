package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fyne.io/systray"
	"github.com/spf13/cobra"

	"github.com/nedpals/davi-device-agent/actions"
	"github.com/nedpals/davi-device-agent/buildinfo"
	"github.com/nedpals/davi-device-agent/config"
	"github.com/nedpals/davi-device-agent/status"
)

// cliOptions are the persistent flags. Flags that were set override the
// config file.
type cliOptions struct {
	configPath string
	quiet      bool
	port       int
	apiSecret  string
	device     string
	noMDNS     bool
	tls        bool
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:          buildinfo.Name,
		Short:        buildinfo.Description,
		Version:      buildinfo.FullVersion(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTray(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default <user config dir>/"+buildinfo.DirName+"/"+config.FileName+")")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "discard log output")
	flags.IntVar(&opts.port, "port", 0, "port for the HTTP and WebSocket server")
	flags.StringVar(&opts.apiSecret, "api-secret", "", "secret WebSocket clients must pass as ?secret=")
	flags.StringVar(&opts.device, "device", "", "libnfc connection string of the NFC reader")
	flags.BoolVar(&opts.noMDNS, "no-mdns", false, "do not advertise the server over mDNS")
	flags.BoolVar(&opts.tls, "tls", false, "serve over TLS with a locally trusted certificate")

	root.AddCommand(
		trayCmd(opts),
		consoleCmd(opts),
		serveCmd(opts),
		featureCmd(opts, "nfc", "Report NFC tags until interrupted", actions.FeatureNFC),
		featureCmd(opts, "atr", "Report smart card ATRs until interrupted", actions.FeatureSmartCard),
		bleCmd(opts),
		journalCmd(opts),
		configCmd(opts),
		versionCmd(),
	)
	return root
}

// loadConfig reads the config file and applies the flags that were set.
func (o *cliOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, required := o.configPath, o.configPath != ""
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = o.port
	}
	if flags.Changed("api-secret") {
		cfg.Server.APISecret = o.apiSecret
	}
	if flags.Changed("device") {
		cfg.NFC.Device = o.device
	}
	if flags.Changed("no-mdns") {
		cfg.Server.MDNS = !o.noMDNS
	}
	if flags.Changed("tls") {
		cfg.Server.TLS = o.tls
	}
	return cfg, nil
}

// logOutput returns where component loggers write. Quiet mode also
// silences the standard logger used by the driver workers.
func (o *cliOptions) logOutput(fallback io.Writer) io.Writer {
	if o.quiet {
		log.SetOutput(io.Discard)
		return io.Discard
	}
	log.SetOutput(fallback)
	return fallback
}

func (o *cliOptions) startAgent(cmd *cobra.Command, logOut io.Writer) (*Agent, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	agent, err := NewAgent(cfg, Hardware{}, o.logOutput(logOut))
	if err != nil {
		return nil, err
	}
	if err := agent.Start(); err != nil {
		return nil, err
	}
	return agent, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func trayCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tray",
		Short: "Run in the system tray (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTray(cmd, opts)
		},
	}
}

func runTray(cmd *cobra.Command, opts *cliOptions) error {
	agent, err := opts.startAgent(cmd, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()

	NewSystrayApp(agent).Run()
	return nil
}

func consoleCmd(opts *cliOptions) *cobra.Command {
	var serve bool
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive console with the same buttons as the tray",
		RunE: func(cmd *cobra.Command, args []string) error {
			rl, err := newReadline()
			if err != nil {
				return err
			}
			agent, err := opts.startAgent(cmd, rl.Stderr())
			if err != nil {
				rl.Close()
				return err
			}
			defer agent.Stop()

			if serve {
				if err := agent.Serve(); err != nil {
					rl.Close()
					return err
				}
			}

			ctx, stop := signalContext()
			defer stop()
			NewConsole(agent, rl).Run(ctx)
			return nil
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", false, "also run the WebSocket server")
	return cmd
}

func serveCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run headless, exposing the buttons and status over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := opts.startAgent(cmd, os.Stderr)
			if err != nil {
				return err
			}
			defer agent.Stop()

			if err := agent.Serve(); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			<-ctx.Done()
			agent.Logger.Println("Shutdown signal received, stopping server...")
			return nil
		},
	}
}

// featureCmd presses one button and prints the status label to stdout
// until interrupted or the timeout passes.
func featureCmd(opts *cliOptions, use, short, feature string) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeature(cmd, opts, feature, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func runFeature(cmd *cobra.Command, opts *cliOptions, feature string, timeout time.Duration) error {
	agent, err := opts.startAgent(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer agent.Stop()

	unsubscribe := agent.Feed.Subscribe(printEvent(cmd.OutOrStdout()))
	defer func() {
		// Flush lines posted by the feature before detaching the printer.
		_ = agent.Feed.Sync()
		unsubscribe()
	}()

	if err := agent.Features.Start(agent.Context(), feature); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	<-ctx.Done()
	return agent.Features.Stop(feature)
}

func bleCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ble",
		Short: "Bluetooth LE beacons",
	}
	cmd.AddCommand(
		featureCmd(opts, "watch", "Report beacons until interrupted", actions.FeatureWatcher),
		featureCmd(opts, "publish", "Advertise the configured beacon until interrupted", actions.FeaturePublisher),
	)
	return cmd
}

func journalCmd(opts *cliOptions) *cobra.Command {
	var source string
	var errorsOnly bool
	cmd := &cobra.Command{
		Use:   "journal [path]",
		Short: "Print a recorded status journal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := opts.loadConfig(cmd)
				if err != nil {
					return err
				}
				path = cfg.Status.Journal
			}
			if path == "" {
				return fmt.Errorf("no journal given and status.journal is not configured")
			}

			filter := status.JournalFilter{ErrorsOnly: errorsOnly}
			if source != "" {
				src, err := status.ParseSource(source)
				if err != nil {
					return err
				}
				filter.Source = src
			}
			out := cmd.OutOrStdout()
			return status.ReadJournal(path, filter, func(ev status.Event) error {
				_, err := fmt.Fprintf(out, "%6d %s %s\n", ev.Seq, ev.Time.Format(time.DateOnly), ev.String())
				return err
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "only events from agent, nfc, smartcard or ble")
	cmd.Flags().BoolVar(&errorsOnly, "errors", false, "only error lines")
	return cmd
}

func configCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			RunE: func(cmd *cobra.Command, args []string) error {
				path := opts.configPath
				if path == "" {
					p, err := config.DefaultPath()
					if err != nil {
						return err
					}
					path = p
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Write the effective configuration to the config file",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := opts.loadConfig(cmd)
				if err != nil {
					return err
				}
				path := opts.configPath
				if path == "" {
					if path, err = config.DefaultPath(); err != nil {
						return err
					}
				}
				if err := cfg.Save(path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
				return nil
			},
		},
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.BuildInfo())
		},
	}
}
