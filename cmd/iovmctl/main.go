// Command iovmctl loads an IOVM1 procedure and drives it to completion
// against either an in-memory reference device or a remote device reached
// over a websocket, optionally attaching a read-only TUI monitor.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/websocket"

	"github.com/alttpo/iovm1/hostmem"
	"github.com/alttpo/iovm1/hostws"
	"github.com/alttpo/iovm1/vm"
	"github.com/alttpo/iovm1/vmconfig"
	"github.com/alttpo/iovm1/vmmonitor"
)

// Version information; overridable at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to a TOML config file (default: platform config dir)")
		target      = flag.String("target", "mem", "Device backend: mem (in-process reference targets) or ws (websocket)")
		listenAddr  = flag.String("listen", "", "Override [transport].listen_addr for -target=ws server mode")
		dialAddr    = flag.String("dial", "", "Override [transport].dial_addr for -target=ws client mode")
		monitorMode = flag.Bool("monitor", false, "Attach the read-only TUI monitor")
		verbose     = flag.Bool("verbose", false, "Verbose output")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("iovmctl %s (%s)\n", Version, Commit)
		os.Exit(0)
	}

	if flag.NArg() == 0 {
		printHelp()
		os.Exit(0)
	}

	procPath := flag.Arg(0)
	proc, err := os.ReadFile(procPath) // #nosec G304 -- user-specified procedure path
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading procedure file: %v\n", err)
		os.Exit(1)
	}

	path := *configPath
	if path == "" {
		path = vmconfig.Path()
	}
	cfg, err := vmconfig.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Transport.ListenAddr = *listenAddr
	}
	if *dialAddr != "" {
		cfg.Transport.DialAddr = *dialAddr
	}

	if *verbose {
		fmt.Printf("Config: %s\n", path)
		fmt.Printf("Procedure: %s (%d bytes)\n", procPath, len(proc))
	}

	adapter, cleanup, err := buildAdapter(*target, cfg, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building device adapter: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	machine := vm.NewVM(adapter)
	if err := machine.Load(proc); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading procedure: %v\n", err)
		os.Exit(1)
	}

	if *monitorMode {
		mon := vmmonitor.NewMonitor(machine)
		machine.SetAdapter(vmmonitor.Decorate(adapter, mon))

		go runToCompletion(machine, *verbose)

		if err := mon.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Monitor error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	runToCompletion(machine, *verbose)
	if machine.GetExecState() == vm.StateErrored {
		fmt.Fprintf(os.Stderr, "Procedure failed: %s\n", machine.LastError())
		os.Exit(1)
	}
}

// runToCompletion drives Exec until the VM reaches a terminal state.
func runToCompletion(machine *vm.VM, verbose bool) {
	for {
		state := machine.GetExecState()
		if state == vm.StateEnded || state == vm.StateErrored {
			break
		}
		if err := machine.Exec(); err != nil {
			if verbose {
				fmt.Printf("Exec error: %v\n", err)
			}
			break
		}
	}
	if verbose {
		fmt.Printf("Final state: %s, error: %s\n", machine.GetExecState(), machine.LastError())
	}
}

// buildAdapter constructs the configured device adapter. The returned
// cleanup func must be called once the VM is done with it.
func buildAdapter(target string, cfg *vmconfig.Config, verbose bool) (vm.HostAdapter, func(), error) {
	switch target {
	case "mem":
		return buildMemAdapter(cfg, verbose), func() {}, nil
	case "ws":
		return buildWSAdapter(cfg, verbose)
	default:
		return nil, nil, fmt.Errorf("unknown -target %q (want mem or ws)", target)
	}
}

func buildMemAdapter(cfg *vmconfig.Config, verbose bool) vm.HostAdapter {
	a := hostmem.NewAdapter()
	for _, t := range cfg.Targets {
		perm := hostmem.PermNone
		if t.Readable {
			perm |= hostmem.PermRead
		}
		if t.Writable {
			perm |= hostmem.PermWrite
		}
		a.AddTarget(t.ID, t.Name, t.Size, perm)
		if verbose {
			fmt.Printf("Target %d (%s): %d bytes, perm=%v\n", t.ID, t.Name, t.Size, perm)
		}
	}
	return a
}

func buildWSAdapter(cfg *vmconfig.Config, verbose bool) (vm.HostAdapter, func(), error) {
	if cfg.Transport.DialAddr != "" {
		conn, _, err := websocket.DefaultDialer.Dial(cfg.Transport.DialAddr, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", cfg.Transport.DialAddr, err)
		}
		if verbose {
			fmt.Printf("Dialed device at %s\n", cfg.Transport.DialAddr)
		}
		return hostws.NewAdapter(conn), func() { conn.Close() }, nil
	}

	if cfg.Transport.ListenAddr == "" {
		return nil, nil, fmt.Errorf("-target=ws requires [transport].dial_addr or listen_addr")
	}

	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	srv := &http.Server{Addr: cfg.Transport.ListenAddr}
	srv.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
	})
	go func() { _ = srv.ListenAndServe() }()
	if verbose {
		fmt.Printf("Listening for device connection on %s\n", cfg.Transport.ListenAddr)
	}

	conn := <-connCh
	return hostws.NewAdapter(conn), func() { conn.Close(); _ = srv.Close() }, nil
}

func printHelp() {
	fmt.Printf(`iovmctl %s

Usage: iovmctl [options] <procedure-file>

Options:
  -version        Show version information
  -config PATH    Path to a TOML config file (default: platform config dir)
  -target NAME    Device backend: mem or ws (default: mem)
  -listen ADDR    Override [transport].listen_addr for -target=ws server mode
  -dial ADDR      Override [transport].dial_addr for -target=ws client mode
  -monitor        Attach the read-only TUI monitor
  -verbose        Verbose output

Examples:
  iovmctl proc.bin
  iovmctl -target=ws -dial ws://localhost:4590/ proc.bin
  iovmctl -monitor proc.bin
`, Version)
}
