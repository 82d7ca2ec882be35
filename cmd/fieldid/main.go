// fieldid is the terminal launcher: it validates the device against the
// authority and then logs in with the stored or an entered app key.
//
// Usage:
//
//	fieldid [options] [command]
//
// Commands:
//
//	run          Validate the device and log in (default)
//	login <key>  Validate the device and submit an app key
//	device       Print the device id, creating it if needed
//	help         Show usage
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"fieldid/internal/config"
	"fieldid/internal/i18n"
	"fieldid/internal/keyverify"
	"fieldid/internal/launch"
)

// Exit codes.
const (
	exitOK               = 0
	exitError            = 1
	exitValidationFailed = 2
	exitLoginFailed      = 3
)

var (
	configPath  = flag.String("config", "", "path to config file")
	profilePath = flag.String("profile", "", "device profile to validate instead of the host")
	watch       = flag.Bool("watch", false, "revalidate whenever the config file changes")
	showMetrics = flag.Bool("metrics", false, "print metrics in Prometheus format on exit")
	interactive = flag.Bool("interactive", true, "prompt for an app key and for restarts")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := "run"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	switch cmd {
	case "run":
		if *watch {
			os.Exit(cmdWatch(ctx))
		}
		os.Exit(cmdRun(ctx, ""))
	case "login":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: fieldid login <app-key>")
			os.Exit(exitError)
		}
		os.Exit(cmdRun(ctx, flag.Arg(1)))
	case "device":
		os.Exit(cmdDevice(ctx))
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(exitError)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `fieldid - Device validation and app key login

Usage: fieldid [options] [command]

Commands:
  run            Validate the device and log in (default)
  login <key>    Validate the device and submit an app key
  device         Print the device id, creating it if needed
  help           Show this help message

Options:
  -config <path>    Path to config file (default: platform config dir)
  -profile <path>   Device profile (TOML, JSON or YAML) to validate
  -watch            Revalidate whenever the config file changes
  -metrics          Print metrics on exit
  -interactive      Prompt for app keys and restarts (default true)`)
}

func loadConfig() *config.Config {
	cfg, created, err := config.LoadOrCreate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(exitError)
	}
	if created {
		fmt.Fprintf(os.Stderr, "Created default config at %s\n", resolvedConfigPath())
	}
	applyFlags(cfg)
	return cfg
}

func resolvedConfigPath() string {
	if *configPath != "" {
		return *configPath
	}
	return config.ConfigPath()
}

func applyFlags(cfg *config.Config) {
	if *profilePath != "" {
		cfg.App.ProfilePath = *profilePath
	}
}

func cmdRun(ctx context.Context, key string) int {
	a, err := newApp(ctx, loadConfig(), os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	defer a.Close()

	in := bufio.NewReader(os.Stdin)
	code := session(ctx, a, key, in, os.Stdout, *interactive)
	if *showMetrics {
		a.registry.WritePrometheus(os.Stdout)
	}
	return code
}

// session runs one launch, restarting on request in interactive mode. A
// non-empty key is submitted when automatic login does not succeed.
func session(ctx context.Context, a *app, key string, in *bufio.Reader, out io.Writer, prompt bool) int {
	for {
		res := a.launcher.Run(ctx)
		if res.RestartRequired {
			if !prompt || ctx.Err() != nil {
				return exitValidationFailed
			}
			fmt.Fprintf(out, "%s? [Enter] ", a.catalog.T(i18n.Restart))
			if _, err := in.ReadString('\n'); err != nil {
				return exitValidationFailed
			}
			continue
		}
		if res.LoggedIn() {
			return exitOK
		}
		return login(ctx, a, key, in, out, prompt)
	}
}

func login(ctx context.Context, a *app, key string, in *bufio.Reader, out io.Writer, prompt bool) int {
	if key != "" {
		d, err := a.launcher.Login(ctx, key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitError
		}
		if d == keyverify.Accepted {
			return exitOK
		}
	}
	if !prompt {
		return exitLoginFailed
	}

	fmt.Fprintln(out, a.catalog.T(i18n.FindAppKeyMessage))
	for ctx.Err() == nil {
		fmt.Fprint(out, "App key: ")
		line, err := in.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			d, lerr := a.launcher.Login(ctx, line)
			if errors.Is(lerr, launch.ErrNotValidated) {
				return exitError
			}
			if d == keyverify.Accepted {
				return exitOK
			}
		}
		if err != nil {
			break
		}
	}
	return exitLoginFailed
}

func cmdWatch(ctx context.Context) int {
	// LoadOrCreate makes sure there is a file to watch.
	loadConfig()
	loader := config.NewLoader(resolvedConfigPath())
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return exitError
	}
	defer loader.Close()

	changed := make(chan *config.Config, 1)
	loader.OnChange(func(_, next *config.Config) {
		select {
		case changed <- next:
		default:
			// A pending reload will pick up the newest file anyway.
		}
	})
	if err := loader.Watch(); err != nil {
		fmt.Fprintf(os.Stderr, "Error watching config: %v\n", err)
		return exitError
	}

	var code int
	for {
		applyFlags(cfg)
		code = runOnce(ctx, cfg)
		fmt.Fprintf(os.Stderr, "Watching %s for changes\n", loader.Path())

	wait:
		for {
			select {
			case <-ctx.Done():
				return code
			case err := <-loader.Errors():
				// The previous configuration stays in effect.
				fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
			case next := <-changed:
				cfg = next.Clone()
				break wait
			}
		}
	}
}

// runOnce validates without prompting, as used by watch mode.
func runOnce(ctx context.Context, cfg *config.Config) int {
	a, err := newApp(ctx, cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	defer a.Close()

	code := session(ctx, a, "", nil, os.Stdout, false)
	if *showMetrics {
		a.registry.WritePrometheus(os.Stdout)
	}
	return code
}

func cmdDevice(ctx context.Context) int {
	a, err := newApp(ctx, loadConfig(), io.Discard)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	defer a.Close()

	id, err := a.identity.EnsureDeviceID(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	fmt.Println(id)
	return exitOK
}
