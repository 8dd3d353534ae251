// Command ratd is a small RAT file-transfer server: it accepts a single
// connection at a time and serves `GET <name>` / `POST <name>\n<data>`
// requests against a backing filesystem, standing in for the original's
// fxa-server.py as an application built atop the Socket API rather than
// part of the transport engine itself.
package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	log "github.com/sirupsen/logrus"

	"github.com/flowgate/rat"
	"github.com/flowgate/rat/config"
	"github.com/flowgate/rat/metrics"
)

const fileNotFound = "FILE_NOT_FOUND"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("[RATD] fatal")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var addr string
	var port int
	var serveDir string

	cmd := &cobra.Command{
		Use:   "ratd",
		Short: "RAT file-transfer server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.ListenAddress = addr
			}
			if cmd.Flags().Changed("port") {
				cfg.ListenPort = port
			}
			if cmd.Flags().Changed("serve-dir") {
				cfg.ServeDir = serveDir
			}
			return run(cfg, configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to an INI config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	cmd.Flags().StringVar(&serveDir, "serve-dir", "", "backing directory for GET/POST (overrides config)")
	return cmd
}

func run(cfg *config.Config, configPath string) error {
	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.ServeDir, 0o755); err != nil {
		return err
	}

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	listener := rat.New(collector)
	if err := listener.Listen(cfg.ListenAddress, cfg.ListenPort, cfg.Backlog); err != nil {
		return err
	}
	log.WithFields(log.Fields{"addr": cfg.ListenAddress, "port": cfg.ListenPort, "dir": cfg.ServeDir}).
		Info("[RATD] listening")

	var mostRecent lastChild
	if configPath != "" {
		go watchConfig(configPath, &mostRecent)
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		mostRecent.set(conn)
		handleConnection(conn, fs, cfg.ServeDir)
	}
}

// lastChild tracks the most recently accepted connection so watchConfig
// has something to renegotiate against; the listening socket itself
// never leaves SERVOPEN/HLORECV, only its accepted children reach
// ESTABLISHED.
type lastChild struct {
	mu   sync.Mutex
	conn *rat.Socket
}

func (lc *lastChild) set(conn *rat.Socket) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.conn = conn
}

func (lc *lastChild) get() *rat.Socket {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.conn
}

// watchConfig re-reads configPath on change and re-issues the current
// window size as a live SWIN request over the most recently accepted
// connection, the protocol's one operator-controlled knob.
func watchConfig(configPath string, mostRecent *lastChild) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("[RATD] config watch disabled")
		return
	}
	defer watcher.Close()

	if err := watcher.Add(configPath); err != nil {
		log.WithError(err).Warn("[RATD] config watch disabled")
		return
	}

	for event := range watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			continue
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			log.WithError(err).Warn("[RATD] config reload failed")
			continue
		}
		conn := mostRecent.get()
		if conn != nil && conn.State() == rat.Established {
			if err := conn.SetWindow(cfg.Window); err != nil {
				log.WithError(err).Warn("[RATD] window renegotiation failed")
			}
		}
	}
}

func handleConnection(conn *rat.Socket, fs afero.Fs, serveDir string) {
	defer func() {
		if conn.State() == rat.Established {
			_ = conn.Close()
		}
	}()

	request, err := conn.Recv()
	if err != nil {
		log.WithError(err).Debug("[RATD] connection ended before a request arrived")
		return
	}

	verb, name, data, err := parseRequest(request)
	if err != nil {
		log.WithError(err).Warn("[RATD] malformed request")
		return
	}

	switch verb {
	case "GET":
		serveGet(conn, fs, serveDir, name)
	case "POST":
		serverPost(fs, serveDir, name, data)
	default:
		log.WithField("verb", verb).Warn("[RATD] unrecognized request verb")
	}
}

func parseRequest(request []byte) (verb, name string, data []byte, err error) {
	line := request
	if idx := bytes.IndexByte(request, '\n'); idx >= 0 {
		line = request[:idx]
		data = request[idx+1:]
	}
	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return "", "", nil, fmt.Errorf("ratd: malformed request line %q", line)
	}
	return strings.ToUpper(fields[0]), fields[1], data, nil
}

func serveGet(conn *rat.Socket, fs afero.Fs, serveDir, name string) {
	path := serveDir + "/" + name
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		if sendErr := conn.Send([]byte(fileNotFound)); sendErr != nil {
			log.WithError(sendErr).Warn("[RATD] failed sending FILE_NOT_FOUND")
		}
		return
	}
	if err := conn.Send(contents); err != nil {
		log.WithError(err).Warn("[RATD] GET send failed")
	}
}

func serverPost(fs afero.Fs, serveDir, name string, data []byte) {
	path := serveDir + "/" + name
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		log.WithError(err).Warn("[RATD] POST write failed")
	}
}
