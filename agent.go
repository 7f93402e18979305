package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/nedpals/davi-device-agent/actions"
	"github.com/nedpals/davi-device-agent/ble"
	"github.com/nedpals/davi-device-agent/config"
	"github.com/nedpals/davi-device-agent/nfc"
	"github.com/nedpals/davi-device-agent/server"
	"github.com/nedpals/davi-device-agent/smartcard"
	"github.com/nedpals/davi-device-agent/status"
	"github.com/nedpals/davi-device-agent/tls"
)

// Hardware holds the drivers the agent talks to. Zero fields fall back to
// the real libnfc, PC/SC and Bluetooth stacks.
type Hardware struct {
	NFC       nfc.Manager
	Bluetooth ble.Adapter
	PCSC      func() (smartcard.Context, error)
}

func (h Hardware) withDefaults() Hardware {
	if h.NFC == nil {
		h.NFC = nfc.NewManager()
	}
	if h.Bluetooth == nil {
		h.Bluetooth = ble.DefaultAdapter()
	}
	if h.PCSC == nil {
		h.PCSC = smartcard.EstablishContext
	}
	return h
}

// Agent owns the status feed, the feature handlers and, once Serve is
// called, the WebSocket server.
type Agent struct {
	Logger   *log.Logger
	Config   *config.Config
	Feed     *status.Feed
	Features *actions.Features
	Server   *server.Server

	logOut     io.Writer
	dispatcher *status.Dispatcher
	journal    *status.Journal
	detach     func()

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	serveDone chan struct{}
	stopOnce  sync.Once
}

// NewAgent builds the agent from cfg. Component loggers write to logOut.
func NewAgent(cfg *config.Config, hw Hardware, logOut io.Writer) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logOut == nil {
		logOut = os.Stderr
	}
	hw = hw.withDefaults()

	a := &Agent{
		Logger: newLogger(logOut, "agent"),
		Config: cfg,
		logOut: logOut,
	}

	a.dispatcher = status.NewDispatcher()
	a.dispatcher.Logger = newLogger(logOut, "dispatcher")
	a.Feed = status.NewFeed(a.dispatcher, cfg.Status.MaxLines)
	a.Feed.Logger = newLogger(logOut, "status")

	nfcHandler := actions.NewNFC(a.Feed, hw.NFC)
	nfcHandler.Logger = newLogger(logOut, "nfc")
	nfcHandler.Device = cfg.NFC.Device
	nfcHandler.PollInterval = cfg.NFC.PollInterval.Std()

	cardHandler := actions.NewSmartCard(a.Feed)
	cardHandler.Logger = newLogger(logOut, "smartcard")
	cardHandler.Establish = hw.PCSC
	cardHandler.Reader = cfg.SmartCard.Reader
	cardHandler.PollTimeout = cfg.SmartCard.PollTimeout.Std()

	md, err := cfg.BLE.ManufacturerData()
	if err != nil {
		return nil, err
	}
	beacons := actions.NewBeacons(a.Feed, hw.Bluetooth)
	beacons.Logger = newLogger(logOut, "ble")
	beacons.CompanyID = md.CompanyID
	beacons.Payload = md.Data
	beacons.LocalName = cfg.BLE.LocalName
	beacons.MinRSSI = cfg.BLE.MinRSSI
	beacons.ScanTimeout = cfg.BLE.ScanTimeout.Std()

	a.Features = &actions.Features{
		NFC:       nfcHandler,
		SmartCard: cardHandler,
		Beacons:   beacons,
	}
	return a, nil
}

func newLogger(out io.Writer, component string) *log.Logger {
	return log.New(out, "["+component+"] ", log.LstdFlags)
}

// Start runs the dispatcher and opens the journal when one is configured.
func (a *Agent) Start() error {
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.dispatcher.Start()

	if path := a.Config.Status.Journal; path != "" {
		journal, err := status.OpenJournal(path)
		if err != nil {
			a.dispatcher.Stop()
			return err
		}
		a.journal = journal
		a.detach = journal.Attach(a.Feed)
		a.Logger.Printf("Journaling status events to %s", path)
	}
	return nil
}

// Context is cancelled when the agent stops. Features started through the
// front ends are bound to it.
func (a *Agent) Context() context.Context {
	return a.ctx
}

// StartFeature starts a feature for a front end. Availability errors are
// already on the status label and are not returned.
func (a *Agent) StartFeature(name string) error {
	err := a.Features.Start(a.ctx, name)
	if errors.Is(err, actions.ErrUnavailable) {
		return nil
	}
	return err
}

// Serve starts the HTTP and WebSocket server in the background.
func (a *Agent) Serve() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Server != nil {
		return errors.New("server already running")
	}

	cfg := server.Config{
		Feed:      a.Feed,
		Features:  a.Features,
		Port:      a.Config.Server.Port,
		APISecret: a.Config.Server.APISecret,
		MDNS:      a.Config.Server.MDNS,
	}
	if a.Config.Server.TLS {
		dir, err := config.Dir()
		if err != nil {
			return fmt.Errorf("locate certificate directory: %w", err)
		}
		store := tls.NewStore(dir)
		store.Logger = newLogger(a.logOut, "tls")
		certFile, keyFile, err := store.Ensure()
		if err != nil {
			return fmt.Errorf("prepare TLS certificate: %w", err)
		}
		cfg.CertFile, cfg.KeyFile, cfg.CACertFile = certFile, keyFile, store.CACertFile()
	}

	a.Server = server.New(cfg)
	a.Server.Logger = newLogger(a.logOut, "server")
	a.serveDone = make(chan struct{})

	go func(srv *server.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Start(); err != nil {
			a.Logger.Printf("Server stopped: %v", err)
			a.Feed.Errorf(status.SourceAgent, "Server stopped: %v", err)
		}
	}(a.Server, a.serveDone)
	return nil
}

// URL returns the WebSocket URL clients should use, or "" when the server
// is not running.
func (a *Agent) URL(host string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Server == nil {
		return ""
	}
	scheme := "ws"
	if a.Config.Server.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/ws", scheme, host, a.Config.Server.Port)
}

// Stop shuts the server down, stops every feature and drains the feed.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		a.Logger.Println("Stopping agent...")

		a.mu.Lock()
		srv, done := a.Server, a.serveDone
		a.mu.Unlock()
		if srv != nil {
			srv.Stop()
			<-done
		}

		if a.cancel != nil {
			a.cancel()
		}
		a.Features.StopAll()
		a.dispatcher.Stop()

		if a.detach != nil {
			a.detach()
		}
		if a.journal != nil {
			if err := a.journal.Close(); err != nil {
				a.Logger.Printf("Close journal: %v", err)
			}
		}
		a.Logger.Println("Agent stopped successfully")
	})
}
