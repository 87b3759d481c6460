// Command kvlite-server runs the key-value store's TCP server. It takes
// no command-line arguments; all configuration comes from the built-in
// defaults, an optional TOML file, and environment variables (see
// internal/config).
package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"kvlite/internal/config"
	"kvlite/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := logrus.StandardLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Error("kvlite: failed to load configuration")
		return 1
	}

	logger.WithFields(logrus.Fields{
		"listen_addr": cfg.ListenAddr,
		"log_file":    cfg.LogFile,
		"workers":     cfg.Workers,
	}).Info("kvlite: starting")

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("kvlite: startup failed")
		return 1
	}

	if err := srv.Run(); err != nil {
		logger.WithError(err).Error("kvlite: shutdown encountered an error")
		return 1
	}

	return 0
}
