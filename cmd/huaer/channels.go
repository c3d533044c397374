package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/huaerlab/huaer/internal/personafile"
	"github.com/huaerlab/huaer/llm"
	"github.com/spf13/viper"
)

// channelSettings is the resolved chat configuration for one channel:
// channels.<id>.* overrides with chat.* fallbacks, optionally replaced
// by a persona_file profile. Immutable once resolved.
type channelSettings struct {
	Cooldown        time.Duration
	MaxContextTurns int
	MaxOutputTokens int
	Persona         string
	SeedMemory      []llm.Message
}

func channelSettingsFromViper(channelID string) (channelSettings, error) {
	s := channelSettings{
		Cooldown:        channelDuration(channelID, "cooldown"),
		MaxContextTurns: channelInt(channelID, "max_context_turns"),
		MaxOutputTokens: channelInt(channelID, "max_output_tokens"),
		Persona:         channelString(channelID, "persona"),
		SeedMemory:      parseSeedMemory(channelValue(channelID, "seed_memory")),
	}

	personaFile := strings.TrimSpace(channelString(channelID, "persona_file"))
	if personaFile != "" {
		profile, err := personafile.Load(personaFile)
		if err != nil {
			return channelSettings{}, fmt.Errorf("channel %q: %w", channelID, err)
		}
		if strings.TrimSpace(profile.Persona) != "" {
			s.Persona = profile.Persona
		}
		if len(profile.SeedMemory) > 0 {
			s.SeedMemory = profile.Messages()
		}
	}
	return s, nil
}

func channelKey(channelID, key string) string {
	return "channels." + channelID + "." + key
}

func channelString(channelID, key string) string {
	if channelID != "" && viper.IsSet(channelKey(channelID, key)) {
		return viper.GetString(channelKey(channelID, key))
	}
	return viper.GetString("chat." + key)
}

func channelInt(channelID, key string) int {
	if channelID != "" && viper.IsSet(channelKey(channelID, key)) {
		return viper.GetInt(channelKey(channelID, key))
	}
	return viper.GetInt("chat." + key)
}

func channelDuration(channelID, key string) time.Duration {
	if channelID != "" && viper.IsSet(channelKey(channelID, key)) {
		return viper.GetDuration(channelKey(channelID, key))
	}
	return viper.GetDuration("chat." + key)
}

func channelValue(channelID, key string) any {
	if channelID != "" && viper.IsSet(channelKey(channelID, key)) {
		return viper.Get(channelKey(channelID, key))
	}
	return viper.Get("chat." + key)
}

// parseSeedMemory accepts the config shape viper produces for an array
// of {role, content} tables. Entries with an unknown role are dropped.
func parseSeedMemory(v any) []llm.Message {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]llm.Message, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		role = strings.TrimSpace(role)
		if role != llm.RoleUser && role != llm.RoleAssistant {
			continue
		}
		out = append(out, llm.Message{Role: role, Content: content})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
