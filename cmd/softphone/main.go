package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebas/softphone/internal/banner"
	"github.com/sebas/softphone/internal/calllog"
	"github.com/sebas/softphone/internal/config"
	"github.com/sebas/softphone/internal/kv"
	"github.com/sebas/softphone/internal/logger"
	"github.com/sebas/softphone/internal/phone"
	"github.com/sebas/softphone/internal/sipagent"
	"github.com/sebas/softphone/internal/tone"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	backend, closeStore, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to open call history store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	history := calllog.NewStore(backend)

	ph := phone.NewPhone(phone.Config{
		Log:   history,
		Tones: tone.NewLog(),
	})

	agent, err := sipagent.NewAgent(sipagent.Config{
		Username:    cfg.Username,
		DisplayName: cfg.DisplayName,
		Realm:       cfg.Realm,
		ServerAddr:  cfg.ServerAddr,
		BindAddr:    cfg.BindAddr,
		Port:        cfg.Port,
		Transport:   cfg.Transport,
		Expiry:      cfg.Expiry,
		Register:    cfg.Register,
	}, ph)
	if err != nil {
		slog.Error("Failed to create SIP agent", "error", err)
		os.Exit(1)
	}
	defer agent.Close()

	ph.SetSignaling(agent)

	banner.Print("Softphone", []banner.ConfigLine{
		{Label: "Account", Value: fmt.Sprintf("sip:%s@%s", cfg.Username, cfg.Realm)},
		{Label: "Server", Value: orDash(cfg.ServerAddr)},
		{Label: "Listen", Value: fmt.Sprintf("%s:%d/%s", cfg.BindAddr, cfg.Port, cfg.Transport)},
		{Label: "History", Value: cfg.StoreBackend},
		{Label: "Log level", Value: cfg.LogLevel},
	})

	run(ph, agent)
}

func run(ph *phone.Phone, agent *sipagent.Agent) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := ph.Run(ctx); err != nil {
			slog.Error("Phone loop error", "error", err)
		}
	}()
	go func() {
		if err := agent.Run(ctx); err != nil {
			slog.Error("SIP agent error", "error", err)
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)
	cancel()

	time.Sleep(1 * time.Second)
}

// openStore selects the call history backend from configuration.
func openStore(cfg *config.Config) (kv.Store, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		return kv.NewMemory(), func() {}, nil
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r, err := kv.OpenRedis(ctx, kv.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, func() { closeQuiet(r) }, nil
	case "file", "":
		f, err := kv.NewFile(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return f, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func closeQuiet(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("Store close failed", "error", err)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
