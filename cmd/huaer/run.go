package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	channelrt "github.com/huaerlab/huaer/internal/channelruntime/misskey"
	"github.com/huaerlab/huaer/internal/channelruntime/worker"
	"github.com/huaerlab/huaer/internal/logutil"
	"github.com/huaerlab/huaer/internal/replyengine"
	"github.com/huaerlab/huaer/llm"
	misskeyapi "github.com/huaerlab/huaer/misskey"
	"github.com/huaerlab/huaer/providers/openai"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Listen for mentions and reply on every configured channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceURL := strings.TrimSpace(flagOrViperString(cmd, "misskey-instance-url", "misskey.instance_url"))
			if instanceURL == "" {
				return fmt.Errorf("missing misskey.instance_url (set via --misskey-instance-url or HUAER_MISSKEY_INSTANCE_URL)")
			}
			instanceURL = strings.TrimRight(instanceURL, "/")
			apiToken := strings.TrimSpace(flagOrViperString(cmd, "misskey-api-token", "misskey.api_token"))
			if apiToken == "" {
				return fmt.Errorf("missing misskey.api_token (set via --misskey-api-token or HUAER_MISSKEY_API_TOKEN)")
			}
			botUserID := strings.TrimSpace(flagOrViperString(cmd, "misskey-user-id", "misskey.user_id"))
			if botUserID == "" {
				return fmt.Errorf("missing misskey.user_id (set via --misskey-user-id or HUAER_MISSKEY_USER_ID)")
			}

			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			channelIDs := normalizeChannelIDs(flagOrViperStringArray(cmd, "misskey-channel-id", "misskey.channel_ids"))
			if len(channelIDs) == 0 {
				// No channels configured: a single worker on the main feed.
				channelIDs = []string{""}
			}

			settings := make(map[string]channelSettings, len(channelIDs))
			for _, id := range channelIDs {
				s, err := channelSettingsFromViper(id)
				if err != nil {
					return err
				}
				settings[id] = s
			}

			llmClient := openai.New(
				viper.GetString("llm.endpoint"),
				viper.GetString("llm.api_key"),
				viper.GetDuration("llm.request_timeout"),
			)
			api := misskeyapi.NewClient(
				&http.Client{Timeout: viper.GetDuration("misskey.request_timeout")},
				instanceURL,
				apiToken,
				logger,
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("huaer_start",
				"instance", instanceURL,
				"bot_user_id", botUserID,
				"channels", len(channelIDs),
			)

			results := worker.Start(worker.StartOptions{
				Ctx:        ctx,
				ChannelIDs: channelIDs,
				Run: func(ctx context.Context, channelID string) error {
					s := settings[channelID]
					return channelrt.Run(ctx, channelrt.Dependencies{
						Logger: logger,
						API:    api,
						LLM:    llmClient,
						Dial: func(ctx context.Context) (misskeyapi.StreamConn, error) {
							return misskeyapi.DialStream(ctx, instanceURL, apiToken)
						},
					}, channelrt.Options{
						ChannelID:            channelID,
						BotUserID:            botUserID,
						InstanceURL:          instanceURL,
						ReadTimeout:          viper.GetDuration("misskey.read_timeout"),
						MaxReconnectAttempts: viper.GetInt("misskey.max_reconnect_attempts"),
						ReconnectDelay:       viper.GetDuration("misskey.reconnect_delay"),
						ReconnectDelayStep:   viper.GetDuration("misskey.reconnect_delay_step"),
						MaxContextTurns:      s.MaxContextTurns,
						SeedMemory:           append([]llm.Message(nil), s.SeedMemory...),
						Chat: replyengine.Config{
							Model:           viper.GetString("llm.model"),
							Persona:         s.Persona,
							MaxOutputTokens: s.MaxOutputTokens,
							Cooldown:        s.Cooldown,
						},
					})
				},
			})

			failed := 0
			for res := range results {
				if res.Err != nil {
					failed++
					logger.Error("channel_worker_failed", "channel_id", res.ChannelID, "error", res.Err.Error())
					continue
				}
				logger.Info("channel_worker_stopped", "channel_id", res.ChannelID)
			}
			if ctx.Err() == nil && failed > 0 {
				return fmt.Errorf("%d channel worker(s) terminated with errors", failed)
			}
			return nil
		},
	}

	cmd.Flags().String("misskey-instance-url", "", "Misskey instance base URL (https://example.tld).")
	cmd.Flags().String("misskey-api-token", "", "Misskey API token.")
	cmd.Flags().String("misskey-user-id", "", "The bot account's user id (used to skip self-mentions).")
	cmd.Flags().StringArray("misskey-channel-id", nil, "Channel id(s) to monitor (repeatable; empty = main feed only).")

	return cmd
}

func normalizeChannelIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
