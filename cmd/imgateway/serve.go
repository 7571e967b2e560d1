package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lobsterai/im-gateway/internal/channel"
	"github.com/lobsterai/im-gateway/internal/channel/adapters/dingtalk"
	"github.com/lobsterai/im-gateway/internal/config"
	"github.com/lobsterai/im-gateway/internal/logger"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to DingTalk and serve messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "path to config file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	gw := dingtalk.New(logger.L)
	gw.SetMediaDir(cfg.DingTalk.MediaDir)
	gw.OnMessage(echoHandler)

	events := gw.Subscribe(32)
	go func() {
		for ev := range events {
			switch ev.Kind {
			case channel.EventError:
				logger.Warn("gateway event", slog.String("kind", string(ev.Kind)), slog.Any("error", ev.Err))
			default:
				logger.Info("gateway event", slog.String("kind", string(ev.Kind)))
			}
		}
	}()

	creds := dingtalk.Credentials{
		Enabled:         cfg.DingTalk.Enabled,
		ClientID:        cfg.DingTalk.ClientID,
		ClientSecret:    cfg.DingTalk.ClientSecret,
		RobotCode:       cfg.DingTalk.RobotCode,
		MessageType:     cfg.DingTalk.MessageType,
		CardTemplateID:  cfg.DingTalk.CardTemplateID,
		CardTemplateKey: cfg.DingTalk.CardTemplateKey,
		Debug:           cfg.DingTalk.Debug,
	}
	if err := gw.Start(ctx, creds); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gw.Close(shutdownCtx)
}

// echoHandler is the built-in responder used when the binary runs
// standalone: it echoes the message back, streaming when the adapter
// supports it.
func echoHandler(ctx context.Context, msg channel.InboundMessage, reply channel.ReplyFunc, stream channel.StreamFunc) error {
	text := "You said: " + msg.Content
	if stream != nil {
		if err := stream(ctx, text); err != nil {
			return err
		}
	}
	return reply(ctx, text)
}
