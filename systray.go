package main

import (
	"fmt"
	"log"
	"os/exec"
	"runtime"
	"time"
	"unicode/utf8"

	"fyne.io/systray"

	"github.com/nedpals/davi-device-agent/actions"
	"github.com/nedpals/davi-device-agent/buildinfo"
	"github.com/nedpals/davi-device-agent/status"
	"github.com/nedpals/davi-device-agent/tls"
)

// Tray layout
const (
	trayStatusLines    = 8
	trayLineWidth      = 64
	trayRefreshSeconds = 1
)

// featureTitles holds the idle and running titles of each button.
var featureTitles = map[string][2]string{
	actions.FeatureNFC:       {"Read NFC tag", "Stop NFC reader"},
	actions.FeatureSmartCard: {"Read smart card ATR", "Stop smart card watcher"},
	actions.FeatureWatcher:   {"Start beacon watcher", "Stop beacon watcher"},
	actions.FeaturePublisher: {"Start beacon publisher", "Stop beacon publisher"},
}

func featureTitle(feature string, running bool) string {
	titles := featureTitles[feature]
	if running {
		return titles[1]
	}
	return titles[0]
}

// trayLine fits a status line into a menu item title.
func trayLine(line string) string {
	if utf8.RuneCountInString(line) <= trayLineWidth {
		return line
	}
	runes := []rune(line)
	return string(runes[:trayLineWidth-1]) + "…"
}

// trayIcon picks the icon for the current state.
func trayIcon(last *status.Event, anyRunning bool) []byte {
	switch {
	case last != nil && last.Kind == status.KindLine && last.Level == status.LevelError:
		return iconError
	case anyRunning:
		return iconActive
	default:
		return iconIdle
	}
}

// SystrayApp is the tray front end. The menu shows the buttons and the
// last lines of the status label.
type SystrayApp struct {
	agent *Agent

	mLines    []*systray.MenuItem
	mFeatures map[string]*systray.MenuItem
	mURL      *systray.MenuItem
	mCopyURL  *systray.MenuItem
	mClear    *systray.MenuItem
	mQuit     *systray.MenuItem

	refresh chan struct{}
}

// NewSystrayApp creates the tray front end for agent.
func NewSystrayApp(agent *Agent) *SystrayApp {
	return &SystrayApp{
		agent:     agent,
		mFeatures: make(map[string]*systray.MenuItem),
		refresh:   make(chan struct{}, 1),
	}
}

// Run blocks until the user quits.
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

func (s *SystrayApp) onReady() {
	s.setupUI()

	unsubscribe := s.agent.Feed.Subscribe(func(status.Event) { s.requestRefresh() })
	go func() {
		<-s.agent.Context().Done()
		unsubscribe()
	}()

	if err := s.agent.Serve(); err != nil {
		s.agent.Feed.Errorf(status.SourceAgent, "Server not started: %v", err)
	}
	s.updateURL()
	s.agent.Feed.Printf(status.SourceAgent, "%s %s ready", buildinfo.DisplayName, buildinfo.FullVersion())

	go s.refreshLoop()
	go s.handleMenuEvents()
}

func (s *SystrayApp) onExit() {
	s.agent.Stop()
}

func (s *SystrayApp) setupUI() {
	systray.SetIcon(iconIdle)
	systray.SetTooltip(buildinfo.DisplayName)

	for _, feature := range actions.AllFeatures {
		s.mFeatures[feature] = systray.AddMenuItemCheckbox(featureTitle(feature, false), "", false)
	}

	systray.AddSeparator()
	for i := 0; i < trayStatusLines; i++ {
		item := systray.AddMenuItem("", "Status")
		item.Disable()
		item.Hide()
		s.mLines = append(s.mLines, item)
	}
	s.mClear = systray.AddMenuItem("Clear status", "Clear the status label")

	systray.AddSeparator()
	s.mURL = systray.AddMenuItem("Server: Not running", "WebSocket URL")
	s.mURL.Disable()
	s.mCopyURL = systray.AddMenuItem("  Copy server URL", "Copy the WebSocket URL to the clipboard")

	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem("Quit", "Quit the application")
}

func (s *SystrayApp) requestRefresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// refreshLoop redraws on feed changes and periodically, since features can
// end on their own.
func (s *SystrayApp) refreshLoop() {
	ticker := time.NewTicker(trayRefreshSeconds * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.agent.Context().Done():
			return
		case <-s.refresh:
		case <-ticker.C:
		}
		s.redraw()
	}
}

func (s *SystrayApp) redraw() {
	lines := s.agent.Feed.Label().Tail(trayStatusLines)
	for i, item := range s.mLines {
		if i < len(lines) {
			item.SetTitle(trayLine(lines[i]))
			item.Show()
		} else {
			item.Hide()
		}
	}

	anyRunning := false
	for feature, running := range s.agent.Features.Running() {
		item := s.mFeatures[feature]
		item.SetTitle(featureTitle(feature, running))
		if running {
			item.Check()
			anyRunning = true
		} else {
			item.Uncheck()
		}
	}

	var last *status.Event
	if events := s.agent.Feed.Snapshot(); len(events) > 0 {
		last = &events[len(events)-1]
	}
	systray.SetIcon(trayIcon(last, anyRunning))
}

func (s *SystrayApp) toggle(feature string) {
	if s.agent.Features.Running()[feature] {
		if err := s.agent.Features.Stop(feature); err != nil {
			log.Printf("Stop %s: %v", feature, err)
		}
	} else if err := s.agent.StartFeature(feature); err != nil {
		log.Printf("Start %s: %v", feature, err)
	}
	s.requestRefresh()
}

func (s *SystrayApp) handleMenuEvents() {
	for {
		select {
		case <-s.mFeatures[actions.FeatureNFC].ClickedCh:
			go s.toggle(actions.FeatureNFC)
		case <-s.mFeatures[actions.FeatureSmartCard].ClickedCh:
			go s.toggle(actions.FeatureSmartCard)
		case <-s.mFeatures[actions.FeatureWatcher].ClickedCh:
			go s.toggle(actions.FeatureWatcher)
		case <-s.mFeatures[actions.FeaturePublisher].ClickedCh:
			go s.toggle(actions.FeaturePublisher)
		case <-s.mClear.ClickedCh:
			s.agent.Feed.Clear()
		case <-s.mCopyURL.ClickedCh:
			if url := s.serverURL(); url != "" {
				if err := copyToClipboard(url); err != nil {
					log.Printf("Failed to copy URL: %v", err)
				}
			}
		case <-s.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (s *SystrayApp) serverURL() string {
	host := "localhost"
	if ips, err := tls.LANIPs(); err == nil && len(ips) > 0 {
		host = ips[0]
	}
	return s.agent.URL(host)
}

func (s *SystrayApp) updateURL() {
	if url := s.serverURL(); url != "" {
		s.mURL.SetTitle("Server: " + url)
		s.mCopyURL.Enable()
	} else {
		s.mURL.SetTitle("Server: Not running")
		s.mCopyURL.Disable()
	}
}

// copyToClipboard copies text to the system clipboard
func copyToClipboard(text string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write([]byte(text)); err != nil {
		return err
	}
	stdin.Close()
	return cmd.Wait()
}
