package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kluzzebass/treeserve/internal/cert"
	"github.com/kluzzebass/treeserve/internal/config"
	"github.com/kluzzebass/treeserve/internal/httpapi"
	"github.com/kluzzebass/treeserve/internal/ingest"
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/snapshot"
	"github.com/kluzzebass/treeserve/internal/tree"
	"github.com/kluzzebass/treeserve/internal/variant"
)

func newServeCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the configured sources and serve the tree over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := notifyContext()
			defer cancel()
			return runServe(ctx, logger, configPath(cmd))
		},
	}
	return cmd
}

func runServe(ctx context.Context, logger *slog.Logger, path string) error {
	cfg, err := config.Load(path, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	t := tree.New()
	dir := cfg.SourcesDirectory()

	if dir != "" {
		if err := snapshot.Load(t, dir); err != nil {
			logger.Warn("no usable snapshot, starting from an empty tree", "dir", dir, "error", err)
		} else {
			logger.Info("restored snapshot", "dir", dir)
		}
	}

	entries, err := parseSourceEntries(cfg)
	if err != nil {
		return fmt.Errorf("parse source entries: %w", err)
	}
	if err := ingest.RunStartupChecks(ctx, entries, logger); err != nil {
		return fmt.Errorf("startup checks: %w", err)
	}

	in, err := buildIngester(cfg, t, logger)
	if err != nil {
		return fmt.Errorf("build ingester: %w", err)
	}

	certMgr, err := buildCertManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("build cert manager: %w", err)
	}

	srv, err := httpapi.New(cfg, t, certMgr, logger)
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}
	in.AddListener(func(_ *pool.Pool, _ *variant.V) { srv.NotifyRebuilt() })

	var saver *snapshotSaver
	if dir != "" {
		saver = newSnapshotSaver(t, dir, logger)
		defer saver.Stop()
		in.AddListener(func(_ *pool.Pool, _ *variant.V) { saver.Trigger() })
	}

	if err := in.Start(ctx); err != nil {
		return fmt.Errorf("start ingester: %w", err)
	}
	defer func() {
		if err := in.Stop(); err != nil {
			logger.Error("stop ingester", "error", err)
		}
	}()

	logger.Info("serving")
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// buildCertManager returns nil (a genuinely nil interface, not a typed-nil
// *cert.Manager) when no "tls.certs" are configured, so httpapi.Server's
// own "s.certMgr == nil" check still works for an ssl=true listener with
// nothing configured to serve it.
func buildCertManager(cfg *config.Config, logger *slog.Logger) (httpapi.CertManager, error) {
	defaultCert, specs, err := cfg.TLS()
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, nil
	}
	mgr := cert.New(cert.Config{Logger: logger})
	certs := make(map[string]cert.CertSource, len(specs))
	for name, s := range specs {
		certs[name] = cert.CertSource{CertPEM: s.CertPEM, KeyPEM: s.KeyPEM, CertFile: s.CertFile, KeyFile: s.KeyFile}
	}
	if err := mgr.LoadFromConfig(defaultCert, certs); err != nil {
		return nil, err
	}
	return mgr, nil
}
