// Command ratcli is an interactive RAT client shell: connect, get, post,
// window, disconnect — reimplementing fxa-client.py's verb set as a REPL
// run from a single cobra root command, plus an optional bubbletea view of
// live connection status (the "window" verb the original stubbed out is
// fully implemented here via Socket.SetWindow).
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	log "github.com/sirupsen/logrus"

	"github.com/flowgate/rat"
	"github.com/flowgate/rat/metrics"
)

type shell struct {
	conn      *rat.Socket
	collector *metrics.Collector
	localPort int
}

func main() {
	sh := &shell{collector: metrics.NewCollector(prometheus.DefaultRegisterer)}
	var tui bool
	var tuiAddr string
	var tuiPort int

	root := &cobra.Command{
		Use:   "ratcli",
		Short: "Interactive RAT client shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !tui {
				return sh.repl()
			}
			conn := rat.New(sh.collector)
			if err := conn.Connect(tuiAddr, tuiPort, sh.localPort); err != nil {
				return err
			}
			sh.conn = conn
			defer conn.Close()
			sp := spinner.New()
			sp.Spinner = spinner.Dot
			_, err := tea.NewProgram(statusModel{conn: conn, spin: sp}).Run()
			return err
		},
	}
	root.Flags().IntVar(&sh.localPort, "local-port", 0, "local UDP port to bind (0 lets the OS choose)")
	root.Flags().BoolVar(&tui, "tui", false, "connect and show a live status view instead of the REPL")
	root.Flags().StringVar(&tuiAddr, "addr", "", "remote address (required with --tui)")
	root.Flags().IntVar(&tuiPort, "port", 0, "remote port (required with --tui)")

	if err := root.Execute(); err != nil {
		log.WithError(err).Error("[RATCLI] fatal")
		os.Exit(1)
	}
}

func (sh *shell) repl() error {
	fmt.Println("ratcli ready. commands: connect <addr> <port>, get <name>, post <name> <text>, window <n>, disconnect, quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		verb := strings.ToLower(fields[0])
		args := fields[1:]

		switch verb {
		case "quit", "exit":
			if sh.conn != nil && sh.conn.State() == rat.Established {
				_ = sh.conn.Close()
			}
			return nil
		case "connect":
			sh.cmdConnect(args)
		case "get":
			sh.cmdGet(args)
		case "post":
			sh.cmdPost(args)
		case "window":
			sh.cmdWindow(args)
		case "disconnect":
			sh.cmdDisconnect()
		default:
			fmt.Printf("unknown command %q\n", verb)
		}
	}
	return scanner.Err()
}

func (sh *shell) cmdConnect(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: connect <addr> <port>")
		return
	}
	port, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Println("bad port:", err)
		return
	}
	conn := rat.New(sh.collector)
	if err := conn.Connect(args[0], port, sh.localPort); err != nil {
		fmt.Println("connect failed:", err)
		return
	}
	sh.conn = conn
	fmt.Printf("connected, stream established (%s)\n", conn)
}

func (sh *shell) cmdGet(args []string) {
	if !sh.requireConnected() || len(args) != 1 {
		fmt.Println("usage: get <name>")
		return
	}
	if err := sh.conn.Send([]byte("GET " + args[0])); err != nil {
		fmt.Println("get request failed:", err)
		return
	}
	data, err := sh.conn.Recv()
	if err != nil {
		fmt.Println("get failed:", err)
		return
	}
	fmt.Printf("%s\n", data)
}

func (sh *shell) cmdPost(args []string) {
	if !sh.requireConnected() || len(args) < 2 {
		fmt.Println("usage: post <name> <text>")
		return
	}
	body := "POST " + args[0] + "\n" + strings.Join(args[1:], " ")
	if err := sh.conn.Send([]byte(body)); err != nil {
		fmt.Println("post failed:", err)
		return
	}
	fmt.Println("posted")
}

func (sh *shell) cmdWindow(args []string) {
	if !sh.requireConnected() || len(args) != 1 {
		fmt.Println("usage: window <n>")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 || n > 0xffff {
		fmt.Println("window size must be a positive 16-bit integer")
		return
	}
	if err := sh.conn.SetWindow(uint16(n)); err != nil {
		fmt.Println("window change failed:", err)
		return
	}
	fmt.Println("window updated to", n)
}

func (sh *shell) cmdDisconnect() {
	if !sh.requireConnected() {
		return
	}
	if err := sh.conn.Close(); err != nil {
		fmt.Println("disconnect failed:", err)
		return
	}
	fmt.Println("disconnected")
}

func (sh *shell) requireConnected() bool {
	if sh.conn == nil || sh.conn.State() != rat.Established {
		fmt.Println("not connected")
		return false
	}
	return true
}

// statusModel is a bubbletea model rendering live connection status: state,
// negotiated window, and segment counters, refreshed on a tick. Run with
// `ratcli --tui --addr <addr> --port <port>`; 'q' or ctrl-c exits.
type statusModel struct {
	conn *rat.Socket
	spin spinner.Model
}

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	hintStyle  = lipgloss.NewStyle().Faint(true)
)

type tickMsg time.Time

func tickEvery() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m statusModel) Init() tea.Cmd {
	return tea.Batch(tickEvery(), m.spin.Tick)
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		if m.conn.State() != rat.Established {
			return m, tea.Quit
		}
		return m, tickEvery()
	default:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m statusModel) View() string {
	snap := m.conn.Metrics()
	state := labelStyle.Render(m.conn.State().String())
	if snap == nil {
		return fmt.Sprintf("%s %s  %s\n", m.spin.View(), state, hintStyle.Render("press q to quit"))
	}
	return fmt.Sprintf("%s %s window=%d sent=%d recv=%d retransmits=%d nacks=%d  %s\n",
		m.spin.View(), state, snap.WindowSize, snap.SegmentsSent, snap.SegmentsReceived,
		snap.Retransmits, snap.NacksSent, hintStyle.Render("press q to quit"))
}
