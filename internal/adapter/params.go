package adapter

import (
	"encoding/json"
	"fmt"
	"os"
)

// Params is the subset of a PEFT adapter_config.json the service reports on.
type Params struct {
	BaseModel     string     `json:"base_model_name_or_path"`
	PeftType      string     `json:"peft_type"`
	TaskType      string     `json:"task_type"`
	Rank          int        `json:"r"`
	Alpha         float64    `json:"lora_alpha"`
	Dropout       float64    `json:"lora_dropout"`
	TargetModules stringList `json:"target_modules"`
}

// stringList accepts either a JSON string or an array of strings.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ReadParams parses the adapter config at loc.ConfigPath.
func ReadParams(loc Location) (Params, error) {
	var p Params
	b, err := os.ReadFile(loc.ConfigPath)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("parse %s: %w", loc.ConfigPath, err)
	}
	return p, nil
}
