// Package main provides the curl2 command-line client.
// It issues single requests, runs batch files, or serves the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Aslarex/go-curl2/internal/cmd"
	"github.com/Aslarex/go-curl2/internal/config"
	"github.com/Aslarex/go-curl2/internal/fetch"
	"github.com/Aslarex/go-curl2/internal/fetcherr"
	log "github.com/Aslarex/go-curl2/internal/logging"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = "$XDG_CONFIG_HOME/curl2/config.yaml"
)

func init() {
	log.SetupBaseLogger()
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		opts         cmd.FetchOptions
		configPath   string
		initConfig   bool
		forceInit    bool
		batchPath    string
		parallel     int
		serve        bool
		keepAlive    time.Duration
		password     string
		capabilities bool
		verbose      bool
		showVersion  bool
	)

	flag.StringVarP(&opts.Method, "request", "X", "", "HTTP method")
	flag.StringArrayVarP(&opts.Headers, "header", "H", nil, `Request header "Name: value" (repeatable)`)
	flag.StringVarP(&opts.Data, "data", "d", "", "Request body, @file or @- for stdin")
	flag.StringArrayVar(&opts.JSONFields, "json", nil, "JSON body field key=value (repeatable)")
	flag.StringArrayVarP(&opts.FormFields, "form", "F", nil, "Multipart field name=value or name=@file (repeatable)")
	flag.StringVarP(&opts.Proxy, "proxy", "x", "", "Proxy host:port[:user:pass] or URL")
	flag.BoolVarP(&opts.Insecure, "insecure", "k", false, "Skip TLS certificate verification")
	flag.StringVar(&opts.HTTPVersion, "http", "", "HTTP version: 1.0, 1.1, 2, 2-prior-knowledge, 3, 3-only")
	flag.BoolVarP(&opts.Location, "location", "L", false, "Follow redirects")
	flag.IntVar(&opts.MaxRedirs, "max-redirs", 0, "Maximum redirects to follow with -L")
	flag.DurationVarP(&opts.Timeout, "max-time", "m", 0, "Overall transfer timeout")
	flag.DurationVar(&opts.ConnectTimeout, "connect-timeout", 0, "Connection timeout")
	flag.BoolVar(&opts.NoCompress, "no-compressed", false, "Do not request a compressed response")
	flag.BoolVar(&opts.HeaderOrder, "header-order", false, "Send headers in browser order")
	flag.BoolVar(&opts.Pin, "pin-dns", false, "Resolve the host first and pin the connection to it")
	flag.BoolVar(&opts.Cache, "cache", false, "Cache the response in the configured store")
	flag.DurationVar(&opts.CacheTTL, "cache-ttl", 0, "Cache entry lifetime (default from config)")
	flag.BoolVarP(&opts.Include, "include", "i", false, "Print status line and headers")
	flag.BoolVar(&opts.Envelope, "envelope", false, "Print the response as a JSON envelope")
	flag.BoolVar(&opts.Stream, "stream", false, "Write the body as it arrives")
	flag.StringVarP(&opts.Output, "output", "o", "", "Write the body to a file")
	flag.BoolVar(&opts.Open, "open", false, "Open the output file when done (with -o)")
	flag.StringVar(&batchPath, "batch", "", "Run a HuJSON array of request documents")
	flag.IntVar(&parallel, "parallel", 8, "Concurrent requests in --batch mode")
	flag.BoolVar(&serve, "serve", false, "Run the HTTP API")
	flag.DurationVar(&keepAlive, "keep-alive", 0, "Stop --serve when /keep-alive is not called for this long")
	flag.StringVar(&password, "password", "", "")
	flag.BoolVar(&capabilities, "capabilities", false, "Show what the curl binary supports")
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.BoolVar(&initConfig, "init-config", false, "Write a default config file")
	flag.BoolVar(&forceInit, "force", false, "Overwrite an existing config (with --init-config)")
	flag.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	flag.BoolVar(&showVersion, "version", false, "Print version")
	_ = flag.CommandLine.MarkHidden("password")
	flag.Parse()

	if showVersion {
		fmt.Printf("curl2 Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)
		return 0
	}
	if initConfig {
		if err := cmd.DoInitConfig(configPath, forceInit, os.Stdout); err != nil {
			log.Errorf("%v", err)
			return 1
		}
		return 0
	}

	// Load environment variables from .env if present.
	if wd, errWd := os.Getwd(); errWd == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	configFilePath, err := config.ExpandPath(configPath)
	if err != nil {
		log.Errorf("failed to resolve config path: %v", err)
		return 1
	}
	// Always optional to support zero-config use.
	cfg, err := config.LoadConfigOptional(configFilePath, true)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return 1
	}
	cfg.ApplyEnv()
	if verbose {
		cfg.Debug = true
	}
	if err = cfg.Sanitize(); err != nil {
		log.Errorf("invalid config: %v", err)
		return 1
	}
	if err = log.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return 1
	}
	log.SetDebug(cfg.Debug)
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := fetch.New(ctx, cfg)
	if err != nil {
		log.Errorf("failed to create client: %v", err)
		return 1
	}
	defer func() {
		if errClose := client.Close(); errClose != nil {
			log.WithError(errClose).Warn("failed to close cache store")
		}
	}()

	switch {
	case capabilities:
		cmd.PrintCapabilities(ctx, client, os.Stdout)
		return 0

	case serve:
		go rotateOnHangup(ctx)
		log.Infof("curl2 Version: %s, Commit: %s, BuiltAt: %s", Version, Commit, BuildDate)
		err = cmd.StartService(ctx, cfg, client, cmd.ServiceOptions{
			ConfigPath:    configFilePath,
			LocalPassword: password,
			KeepAlive:     keepAlive,
		})
		if err != nil {
			log.Errorf("%v", err)
			return 1
		}
		return 0

	case batchPath != "":
		failed, errBatch := cmd.DoBatch(ctx, client, batchPath, parallel, os.Stdout)
		if errBatch != nil {
			log.Errorf("%v", errBatch)
			return 1
		}
		if failed > 0 {
			color.New(color.FgYellow).Fprintf(os.Stderr, "%d request(s) failed\n", failed)
			return 2
		}
		return 0
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: curl2 [flags] URL")
		flag.PrintDefaults()
		return 2
	}
	opts.URL = strings.TrimSpace(flag.Arg(0))

	req, err := cmd.BuildRequest(&opts)
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "curl2: %v\n", err)
		return 2
	}
	if err = cmd.DoFetch(ctx, client, req, &opts, os.Stdout); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "curl2: %v\n", err)
		return exitCode(err)
	}
	return 0
}

// rotateOnHangup starts a new log segment on SIGHUP until ctx ends.
func rotateOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := log.Rotate(); err != nil {
				log.WithError(err).Warn("failed to rotate log file")
			}
		}
	}
}

// exitCode passes through the transport's exit code where there is one.
func exitCode(err error) int {
	var fe *fetcherr.Error
	if errors.As(err, &fe) && fe.Kind == fetcherr.KindTransport && fe.ExitCode > 0 {
		return fe.ExitCode
	}
	return 1
}
