// Command sepal-host drives a running sepal controller the way a native host
// would. It dials the bridge socket, answers navigation operations and turns
// script commands into host events.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tinytelemetry/sepal/internal/appconfig"
	"github.com/tinytelemetry/sepal/internal/hostsim"
	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/socketrpc"
	"golang.org/x/sync/errgroup"
)

const usage = `commands:
  boot [page]      raise AppReady (home page when omitted)
  show <id>        raise onShow for a view
  hide <id>        raise onHide for a view
  rendered <id>    report the first render of a view
  back [delta]     press the system back button
  tab <index>      tap a tab bar item
  home             press the home button
  relaunch         ask for a forced relaunch
  fail <op> <msg>  fail the next call of a host operation
  sleep <dur>      wait, e.g. sleep 200ms
  stack            print the simulated views
  quit             disconnect`

func main() {
	var socketPath, appPath, scriptPath string
	flag.StringVar(&socketPath, "socket", socketrpc.DefaultSocketPath(), "controller bridge socket")
	flag.StringVar(&appPath, "app", "", "application config (app.json or app.yaml)")
	flag.StringVar(&scriptPath, "script", "", "read commands from a file instead of stdin")
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.SetPrefix("sepal-host ")

	if err := run(socketPath, appPath, scriptPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(socketPath, appPath, scriptPath string) error {
	var cfg model.AppConfig
	if appPath != "" {
		loaded, err := appconfig.Load(appPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	var in io.Reader = os.Stdin
	if scriptPath != "" {
		f, err := os.Open(scriptPath)
		if err != nil {
			return fmt.Errorf("open script: %w", err)
		}
		defer f.Close()
		in = f
	}

	client, err := socketrpc.Dial(socketPath)
	if err != nil {
		return fmt.Errorf("cannot connect to sepal at %s: %w\nIs the controller running? Start it with: sepal", socketPath, err)
	}
	defer client.Close()

	host := hostsim.New(client, cfg, log.Default())
	host.Install()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The script cannot be interrupted while it waits on stdin, so it runs
	// outside the group: whichever of the two ends first stops the other.
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	scriptErr := make(chan error, 1)
	go func() {
		defer cancel()
		scriptErr <- runScript(sctx, host, in, os.Stdout)
	}()

	var g errgroup.Group
	g.Go(func() error {
		defer cancel()
		return client.Serve(sctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	select {
	case err := <-scriptErr:
		return err
	default:
		log.Printf("controller closed the bridge")
		return nil
	}
}

// runScript executes one command per line until EOF, quit or ctx ends.
func runScript(ctx context.Context, host *hostsim.Host, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		quit, err := execute(ctx, host, strings.Fields(line), out)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", line, err)
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

func execute(ctx context.Context, host *hostsim.Host, args []string, out io.Writer) (quit bool, err error) {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	num := func(i, def int) (int, error) {
		if arg(i) == "" {
			return def, nil
		}
		return strconv.Atoi(arg(i))
	}

	switch args[0] {
	case "boot":
		v, err := host.Boot(arg(1))
		if err == nil {
			fmt.Fprintf(out, "booted %s as view %d\n", v.URL, v.ID)
		}
		return false, err
	case "show", "hide", "rendered":
		id, err := num(1, 0)
		if err != nil || id <= 0 {
			return false, fmt.Errorf("view id required")
		}
		switch args[0] {
		case "show":
			return false, host.Show(id)
		case "hide":
			return false, host.Hide(id)
		}
		return false, host.Rendered(id)
	case "back":
		delta, err := num(1, 1)
		if err != nil {
			return false, err
		}
		return false, host.Back(delta)
	case "tab":
		idx, err := num(1, -1)
		if err != nil {
			return false, err
		}
		return false, host.TapTab(idx)
	case "home":
		return false, host.BackToHome()
	case "relaunch":
		return false, host.ForceReLaunch()
	case "fail":
		if len(args) < 3 {
			return false, fmt.Errorf("usage: fail <op> <message>")
		}
		host.FailNext(args[1], strings.Join(args[2:], " "))
		return false, nil
	case "sleep":
		d, err := time.ParseDuration(arg(1))
		if err != nil {
			return false, err
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
		return false, nil
	case "stack":
		for i, v := range host.Stack() {
			fmt.Fprintf(out, "%d  #%d %s\n", i, v.ID, v.URL)
		}
		return false, nil
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(out, usage)
		return false, nil
	}
	return false, fmt.Errorf("unknown command %q (try help)", args[0])
}
