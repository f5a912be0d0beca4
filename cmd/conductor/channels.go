package main

import (
	"fmt"
	"log/slog"

	"github.com/kestrelai/conductor/internal/channels"
	"github.com/kestrelai/conductor/internal/channels/discord"
	"github.com/kestrelai/conductor/internal/channels/mattermost"
	"github.com/kestrelai/conductor/internal/channels/slack"
	"github.com/kestrelai/conductor/internal/channels/telegram"
	"github.com/kestrelai/conductor/internal/channels/whatsapp"
	"github.com/kestrelai/conductor/internal/config"
)

// buildChannelAdapters constructs every enabled transport adapter and
// registers it onto registry. Each adapter's own capability interfaces
// (inbound, outbound, lifecycle, health) are detected by Registry.Register
// via type assertion, so one Register call per adapter is enough.
func buildChannelAdapters(cfg config.ChannelsConfig, registry *channels.Registry, logger *slog.Logger) error {
	if cfg.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{
			Token:  cfg.Telegram.BotToken,
			Mode:   telegram.ModeLongPolling,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		registry.Register(adapter)
	}

	if cfg.Discord.Enabled {
		adapter, err := discord.NewAdapter(discord.Config{
			Token:  cfg.Discord.BotToken,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		registry.Register(adapter)
	}

	if cfg.Slack.Enabled {
		adapter := slack.NewAdapter(slack.Config{
			BotToken: cfg.Slack.BotToken,
			AppToken: cfg.Slack.AppToken,
		})
		registry.Register(adapter)
	}

	if cfg.WhatsApp.Enabled {
		adapter, err := whatsapp.New(&whatsapp.Config{
			Enabled:      cfg.WhatsApp.Enabled,
			SessionPath:  cfg.WhatsApp.SessionPath,
			MediaPath:    cfg.WhatsApp.MediaPath,
			SyncContacts: cfg.WhatsApp.SyncContacts,
		}, logger)
		if err != nil {
			return fmt.Errorf("whatsapp: %w", err)
		}
		registry.Register(adapter)
	}

	if cfg.Mattermost.Enabled {
		adapter, err := mattermost.NewAdapter(mattermost.Config{
			ServerURL: cfg.Mattermost.ServerURL,
			Token:     cfg.Mattermost.Token,
			Username:  cfg.Mattermost.Username,
			Password:  cfg.Mattermost.Password,
			TeamName:  cfg.Mattermost.TeamName,
			RateLimit: cfg.Mattermost.RateLimit,
			RateBurst: cfg.Mattermost.RateBurst,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("mattermost: %w", err)
		}
		registry.Register(adapter)
	}

	return nil
}
