// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

// Package main implements the geotrack console consumer.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/wneessen/geotrack/internal/app"
	"github.com/wneessen/geotrack/internal/config"
	"github.com/wneessen/geotrack/internal/i18n"
	"github.com/wneessen/geotrack/internal/logger"
)

const appName = "geotrack"

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGABRT, os.Interrupt)
	defer cancel()

	log := logger.New(slog.LevelError)

	confPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	conf, err := loadConfig(*confPath)
	if err != nil {
		log.Error("failed to load config", logger.Err(err))
		os.Exit(1)
	}
	log = logger.New(conf.LogLevel)

	t, err := i18n.New(conf.Locale)
	if err != nil {
		log.Error("failed to load translations", logger.Err(err))
		os.Exit(1)
	}

	consumer, err := app.New(conf, log, app.WithLocalizer(t))
	if err != nil {
		log.Error(t.Get("failed to initialize geotrack"), logger.Err(err))
		os.Exit(1)
	}

	log.Info(t.Get("starting geotrack"), slog.String("version", version), slog.String("commit", commit),
		slog.String("date", date), slog.String("locale", conf.Locale))
	if err = consumer.Run(ctx); err != nil {
		log.Error(t.Get("geotrack stopped with an error"), logger.Err(err))
		cancel()
		os.Exit(1)
	}
	log.Info(t.Get("shutting down geotrack"))
}

// loadConfig reads the config file given on the command line, then the one in the default location
// and finally falls back to the environment only.
func loadConfig(confPath string) (*config.Config, error) {
	if confPath != "" {
		return config.NewFromFile(filepath.Dir(confPath), filepath.Base(confPath))
	}
	if path, file := findConfigFile(); path != "" && file != "" {
		return config.NewFromFile(path, file)
	}
	return config.New()
}

func findConfigFile() (string, string) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}
	exts := []string{"toml", "yaml", "yml", "json"}
	for _, ext := range exts {
		path := filepath.Join(homedir, ".config", appName, "config."+ext)
		if _, err = os.Stat(path); err == nil {
			return filepath.Dir(path), filepath.Base(path)
		}
	}
	return "", ""
}
