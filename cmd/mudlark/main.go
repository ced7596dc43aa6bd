// Package main is the entry point for the mudlark script client.
//
// mudlark reads decoded game lines from stdin or a TCP address, feeds them
// to the dispatcher, and interprets lines beginning with ";" as client
// commands (start, kill, pause, unpause, list).
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/mudlark/internal/config"
	"github.com/dshills/mudlark/internal/engine"
	"github.com/dshills/mudlark/internal/logging"
	"github.com/dshills/mudlark/internal/script"
	"github.com/dshills/mudlark/internal/source"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath     string
		scriptPaths string
		addr        string
		logLevel    string
		showVersion bool
	)
	flag.StringVar(&cfgPath, "config", "mudlark.toml", "Path to configuration file")
	flag.StringVar(&scriptPaths, "scripts", "", "Script search paths (path-list separated), overrides config")
	flag.StringVar(&addr, "addr", "", "TCP address to read game lines from (default stdin)")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("mudlark %s (%s)\n", version, commit)
		return 0
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if scriptPaths != "" {
		cfg.ScriptPaths = filepath.SplitList(scriptPaths)
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := serve(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func serve(cfg config.Config) error {
	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Output: os.Stderr,
		Prefix: "mudlark",
	})
	joinTimeout, err := cfg.JoinTimeoutDuration()
	if err != nil {
		return err
	}

	reg := script.NewRegistry(
		script.WithRegistryLogger(log),
		script.WithKillJoinTimeout(joinTimeout),
	)
	res := source.NewResolver(cfg.ScriptPaths, source.WithResolverLogger(log))

	watcher, err := source.NewWatcher(res, log)
	if err != nil {
		log.Warn("script directory watching disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	var input io.Reader = os.Stdin
	var conn net.Conn
	if cfg.Addr != "" {
		conn, err = net.Dial("tcp", cfg.Addr)
		if err != nil {
			return fmt.Errorf("connect %s: %w", cfg.Addr, err)
		}
		defer conn.Close()
		input = conn
		log.Info("connected to %s", cfg.Addr)
	}

	var e *engine.Engine
	put := func(cmd string) {
		if conn != nil {
			fmt.Fprintln(conn, cmd)
		} else {
			fmt.Println("> " + cmd)
		}
		e.FeedUpstream(cmd)
	}
	e = engine.New(reg, res,
		engine.WithLogger(log),
		engine.WithEcho(script.EchoFunc(func(msg string) { fmt.Println(msg) })),
		engine.WithPut(put),
		engine.WithJoinTimeout(joinTimeout),
	)
	defer e.Shutdown(joinTimeout + time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			line := scanner.Text()
			if rest, ok := strings.CutPrefix(line, ";"); ok {
				handleCommand(e, rest)
				continue
			}
			e.FeedDownstream(line)
		}
		return scanner.Err()
	})
	g.Go(func() error {
		<-ctx.Done()
		// Unblock the TCP read; the stdin read ends at EOF.
		if conn != nil {
			conn.Close()
		}
		return ctx.Err()
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// handleCommand interprets a ";" client command line.
func handleCommand(e *engine.Engine, cmd string) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "start", "force":
		if len(fields) < 2 {
			fmt.Println("usage: ;" + fields[0] + " <script> [args...]")
			return
		}
		_, err := e.Start(fields[1], engine.StartOptions{
			Args:  fields[2:],
			Force: fields[0] == "force",
		})
		if err != nil {
			fmt.Printf("cannot start %s: %v\n", fields[1], err)
		}
	case "kill":
		if len(fields) < 2 {
			e.KillAll()
			return
		}
		if err := e.Kill(fields[1]); err != nil {
			fmt.Printf("cannot kill %s: %v\n", fields[1], err)
		}
	case "pause":
		if len(fields) < 2 {
			for _, s := range e.PauseAll() {
				fmt.Printf("[%s paused]\n", s.Name())
			}
			return
		}
		if _, err := e.Pause(fields[1]); err != nil {
			fmt.Printf("cannot pause %s: %v\n", fields[1], err)
		}
	case "unpause":
		if len(fields) < 2 {
			for _, s := range e.UnpauseAll() {
				fmt.Printf("[%s unpaused]\n", s.Name())
			}
			return
		}
		if _, err := e.Unpause(fields[1]); err != nil {
			fmt.Printf("cannot unpause %s: %v\n", fields[1], err)
		}
	case "list":
		for _, s := range e.List() {
			if s.Hidden() {
				continue
			}
			state := "running"
			if s.Paused() {
				state = "paused"
			}
			fmt.Printf("%s\t%s\t%s\n", s.Name(), state, s.Uptime().Round(time.Second))
		}
	default:
		fmt.Printf("unknown command: %s\n", fields[0])
	}
}
