package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Completion backend.
	viper.SetDefault("llm.endpoint", "https://api.openai.com")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.request_timeout", 60*time.Second)

	// Misskey instance.
	viper.SetDefault("misskey.instance_url", "")
	viper.SetDefault("misskey.api_token", "")
	viper.SetDefault("misskey.user_id", "")
	viper.SetDefault("misskey.channel_ids", []string{})
	viper.SetDefault("misskey.request_timeout", 30*time.Second)

	// Streaming session.
	viper.SetDefault("misskey.read_timeout", 10*time.Second)
	viper.SetDefault("misskey.max_reconnect_attempts", 5)
	viper.SetDefault("misskey.reconnect_delay", 5*time.Second)
	viper.SetDefault("misskey.reconnect_delay_step", 2*time.Second)

	// Chat defaults; channels.<id>.* overrides these per channel.
	viper.SetDefault("chat.cooldown", time.Duration(0))
	viper.SetDefault("chat.max_context_turns", 6)
	viper.SetDefault("chat.max_output_tokens", 1024)
	viper.SetDefault("chat.persona", "")

	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)
	viper.SetDefault("trace", false)
}
