package cmd

import (
	"context"
	"time"

	"github.com/Aslarex/go-curl2/internal/api"
	"github.com/Aslarex/go-curl2/internal/config"
	"github.com/Aslarex/go-curl2/internal/fetch"
	log "github.com/Aslarex/go-curl2/internal/logging"
	"github.com/Aslarex/go-curl2/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

// ServiceOptions tune the HTTP service.
type ServiceOptions struct {
	// ConfigPath is watched for changes when non-empty.
	ConfigPath string
	// LocalPassword guards the keep-alive endpoint.
	LocalPassword string
	// KeepAlive stops the service when no heartbeat arrives for this long.
	KeepAlive time.Duration
}

// StartService runs the HTTP service until ctx is done, the keep-alive window
// lapses, or the listener fails.
func StartService(ctx context.Context, cfg *config.Config, client *fetch.Client, opts ServiceOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverOpts := []api.ServerOption{api.WithLocalPassword(opts.LocalPassword)}
	if opts.KeepAlive > 0 {
		serverOpts = append(serverOpts, api.WithKeepAliveEndpoint(opts.KeepAlive, cancel))
	}
	server := api.NewServer(cfg, client, serverOpts...)

	if opts.ConfigPath != "" {
		w, err := watcher.NewWatcher(opts.ConfigPath, server.UpdateConfig)
		if err == nil {
			w.SetConfig(cfg)
			err = w.Start(ctx)
		}
		if err != nil {
			log.WithError(err).Warn("config hot reload disabled")
		} else {
			defer func() {
				if errStop := w.Stop(); errStop != nil {
					log.WithError(errStop).Debug("failed to stop config watcher")
				}
			}()
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
