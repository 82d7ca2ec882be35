// fieldidctl browses and maintains the fieldid audit log and secure store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"fieldid/internal/config"
	"fieldid/internal/i18n"
	"fieldid/internal/securestore"
	"fieldid/internal/store"
)

// MsgKeyRemoved is written to the app stream by logout.
const MsgKeyRemoved = "The stored app key was removed by an operator."

var (
	configPath = flag.String("config", "", "path to config file")
	stream     = flag.String("stream", "app", "log stream: app or service")
	search     = flag.String("search", "", "case-insensitive message substring")
	since      = flag.String("since", "", "first day to include (YYYY-MM-DD)")
	until      = flag.String("until", "", "last day to include (YYYY-MM-DD)")
	severity   = flag.String("severity", "", "success, warning or error")
	limit      = flag.Int("limit", 50, "maximum entries to print")
	offset     = flag.Int("offset", 0, "entries to skip")
	details    = flag.Bool("details", false, "print entries as copyable detail blocks")
	asJSON     = flag.Bool("json", false, "print entries as JSON")
	utc        = flag.Bool("utc", false, "show and parse dates in UTC instead of local time")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)

	switch cmd {
	case "status":
		cmdStatus()
	case "logs":
		cmdLogs()
	case "count":
		cmdCount()
	case "reset":
		cmdReset()
	case "device":
		cmdDevice()
	case "logout":
		cmdLogout()
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `fieldidctl - Audit log and credential utility for fieldid

Usage: fieldidctl [options] <command>

Commands:
  status          Show schema version and entry counts
  logs            List audit entries, newest first
  count           Count audit entries matching the filter
  reset           Delete every entry of both streams
  device          Print the stored device id
  logout          Remove the stored app key
  help            Show this help message

Options:
  -config <path>     Path to config file (default: platform config dir)
  -stream <name>     app or service (default: app)
  -search <text>     Message substring
  -since <date>      First day, YYYY-MM-DD (requires -until)
  -until <date>      Last day, YYYY-MM-DD (requires -since)
  -severity <name>   success, warning or error
  -limit <n>         Maximum entries (default: 50)
  -offset <n>        Entries to skip
  -details           Print detail blocks instead of a table
  -json              Print JSON
  -utc               Use UTC for dates`)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func loadCatalog(cfg *config.Config) *i18n.Catalog {
	catalog, err := i18n.New(cfg.Locale)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading messages: %v\n", err)
		os.Exit(1)
	}
	return catalog
}

func openAudit(cfg *config.Config) *store.Store {
	db, err := store.Open(cfg.Storage.AuditPath, store.WithBusyTimeout(cfg.Storage.BusyTimeoutMs))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening audit log: %v\n", err)
		os.Exit(1)
	}
	return db
}

func location() *time.Location {
	if *utc {
		return time.UTC
	}
	return time.Local
}

func selectedStream() store.Stream {
	s := store.Stream(*stream)
	if s != store.StreamApp && s != store.StreamService {
		fmt.Fprintf(os.Stderr, "Unknown stream: %s\n", *stream)
		os.Exit(1)
	}
	return s
}

// filterOrExit builds the filter, printing the localized reason for a
// rejected date range.
func filterOrExit(catalog *i18n.Catalog) store.Filter {
	f, err := buildFilter(*search, *since, *until, *severity, location())
	if err != nil {
		if key, ok := filterMessageKey(err); ok {
			fmt.Fprintln(os.Stderr, catalog.T(key))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
	return f
}

func cmdStatus() {
	cfg := loadConfig()
	ctx := context.Background()

	db := openAudit(cfg)
	defer db.Close()

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error checking audit log: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Audit log:       %s\n", cfg.Storage.AuditPath)
	fmt.Printf("Schema version:  %d (latest %d)\n", version, store.LatestVersion())
	for _, s := range []store.Stream{store.StreamApp, store.StreamService} {
		n, err := db.Count(ctx, s, store.Filter{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error counting %s logs: %v\n", s, err)
			os.Exit(1)
		}
		fmt.Printf("%-16s %d\n", string(s)+" entries:", n)
	}
	fmt.Printf("Server:          %s\n", cfg.Server.URL)
	fmt.Printf("App version:     %s\n", cfg.App.Version)
}

func cmdLogs() {
	cfg := loadConfig()
	catalog := loadCatalog(cfg)
	s := selectedStream()
	f := filterOrExit(catalog)

	db := openAudit(cfg)
	defer db.Close()

	entries, err := db.Search(context.Background(), s, f, *limit, *offset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading logs: %v\n", err)
		os.Exit(1)
	}
	if len(entries) == 0 && !*asJSON {
		fmt.Println(catalog.T(i18n.NoLogs))
		return
	}

	mode := modeTable
	switch {
	case *asJSON:
		mode = modeJSON
	case *details:
		mode = modeDetails
	}
	if err := writeEntries(os.Stdout, s, entries, mode, location()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdCount() {
	cfg := loadConfig()
	catalog := loadCatalog(cfg)
	s := selectedStream()
	f := filterOrExit(catalog)

	db := openAudit(cfg)
	defer db.Close()

	n, err := db.Count(context.Background(), s, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error counting logs: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(n)
}

func cmdReset() {
	cfg := loadConfig()
	catalog := loadCatalog(cfg)

	db := openAudit(cfg)
	defer db.Close()

	if err := db.Reset(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error resetting logs: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(catalog.T(i18n.LogsReset))
}

func openSecrets(cfg *config.Config) *securestore.FileStore {
	if cfg.Storage.SecureStoreType == "memory" {
		fmt.Fprintln(os.Stderr, "The configured secure store is in memory; nothing is stored between runs.")
		os.Exit(1)
	}
	fs, err := securestore.OpenFile(cfg.Storage.SecureStorePath, cfg.Storage.MasterKeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening secure store: %v\n", err)
		os.Exit(1)
	}
	return fs
}

func cmdDevice() {
	cfg := loadConfig()
	secrets := openSecrets(cfg)
	defer secrets.Close()

	id, err := secrets.Get(context.Background(), securestore.KeyDeviceID)
	switch {
	case errors.Is(err, securestore.ErrNotFound):
		fmt.Println("No device id has been created yet.")
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	default:
		fmt.Println(id)
	}
}

func cmdLogout() {
	cfg := loadConfig()
	ctx := context.Background()

	secrets := openSecrets(cfg)
	defer secrets.Close()
	db := openAudit(cfg)
	defer db.Close()

	if err := secrets.Delete(ctx, securestore.KeyAppKey); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	entry := store.Entry{Severity: store.SeveritySuccess, Message: MsgKeyRemoved}
	if _, err := db.Append(ctx, store.StreamApp, entry); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: key removed but the audit entry failed: %v\n", err)
	}
	fmt.Println("Stored app key removed.")
}
