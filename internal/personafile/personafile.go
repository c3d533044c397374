package personafile

import (
	"fmt"
	"os"
	"strings"

	"github.com/huaerlab/huaer/llm"
	"gopkg.in/yaml.v3"
)

// Profile is an on-disk persona definition a channel config can point
// at via persona_file. Keeping personas in their own files keeps long
// prompts and seed turns out of the main config.
type Profile struct {
	Persona    string `yaml:"persona"`
	SeedMemory []Turn `yaml:"seed_memory"`
}

type Turn struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

func Load(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("parse persona file %s: %w", path, err)
	}
	for i, turn := range p.SeedMemory {
		role := strings.TrimSpace(turn.Role)
		if role != llm.RoleUser && role != llm.RoleAssistant {
			return Profile{}, fmt.Errorf("persona file %s: seed_memory[%d] role must be user or assistant, got %q", path, i, turn.Role)
		}
	}
	return p, nil
}

// Messages converts the seed turns into model messages.
func (p Profile) Messages() []llm.Message {
	out := make([]llm.Message, 0, len(p.SeedMemory))
	for _, turn := range p.SeedMemory {
		out = append(out, llm.Message{Role: strings.TrimSpace(turn.Role), Content: turn.Content})
	}
	return out
}
