// fieldid-authority serves a development authority answering ping, version
// and app-key requests from memory.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fieldid/internal/authstub"
	"fieldid/internal/logging"
)

var (
	addr        = flag.String("addr", "127.0.0.1:8787", "listen address")
	version     = flag.String("version", "1.0.0", "latest version to report")
	secret      = flag.String("secret", "", "bearer token secret; empty disables token checks")
	keys        = flag.String("keys", "", "comma separated app keys to issue")
	keysFile    = flag.String("keys-file", "", "file with one app key per line")
	keyRate     = flag.Float64("key-rate", 1, "key-use requests per second per client")
	keyBurst    = flag.Int("key-burst", 5, "key-use burst per client")
	maintenance = flag.Bool("maintenance", false, "report the service as unavailable")
	logLevel    = flag.String("log-level", "info", "debug, info, warn or error")
	logJSON     = flag.Bool("log-json", false, "log as JSON")
)

func main() {
	flag.Parse()

	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	issued, err := loadKeys(*keys, *keysFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading keys: %v\n", err)
		os.Exit(1)
	}
	if *secret == "" {
		if env := os.Getenv("FIELDID_CLIENT_SECRET"); env != "" {
			*secret = env
		}
	}

	stub := authstub.New(authstub.Config{
		Version:  *version,
		Secret:   *secret,
		Keys:     issued,
		KeyRate:  *keyRate,
		KeyBurst: *keyBurst,
	}, logger)
	defer stub.Close()
	stub.SetMaintenance(*maintenance)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           stub.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("authority listening", "addr", *addr, "version", *version, "keys", len(issued), "auth", *secret != "")
	if err := serve(ctx, srv); err != nil {
		logger.Error("authority stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("authority shut down")
}

// serve runs srv until ctx is canceled, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server) error {
	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errChan:
		return err
	}
}

func newLogger() (*logging.Logger, error) {
	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		return nil, err
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Output = "stderr"
	cfg.Component = "fieldid-authority"
	if *logJSON {
		cfg.Format = logging.FormatJSON
	}
	return logging.New(cfg)
}

// loadKeys merges the comma separated list with the keys file. Blank lines
// and lines starting with # are ignored.
func loadKeys(list, path string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k == "" || strings.HasPrefix(k, "#") || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, k)
	}

	for _, k := range strings.Split(list, ",") {
		add(k)
	}
	if path == "" {
		return out, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		add(scanner.Text())
	}
	return out, scanner.Err()
}
