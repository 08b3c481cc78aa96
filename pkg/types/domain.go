package types

import "time"

// Role tags an entry of a structured chat request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Swipe is one alternate generation of a message.
type Swipe struct {
	// Text of this variant.
	// example: Hello there!
	Text string `json:"text" yaml:"text" toml:"text" example:"Hello there!"`
	// RegenCache holds the text replaced by an in-place regeneration so it can be restored.
	RegenCache string `json:"regen_cache,omitempty" yaml:"regen_cache,omitempty" toml:"regen_cache,omitempty"`
	// SendDate is when the variant was produced.
	SendDate time.Time `json:"send_date" yaml:"send_date" toml:"send_date"`
}

// Message is one turn of a conversation. SwipeID selects the active swipe.
type Message struct {
	// example: 12
	ID int64 `json:"id" yaml:"id" toml:"id" example:"12"`
	// example: false
	IsUser bool `json:"is_user" yaml:"is_user" toml:"is_user" example:"false"`
	// example: Seraphina
	Name string `json:"name" yaml:"name" toml:"name" example:"Seraphina"`
	SendDate time.Time `json:"send_date" yaml:"send_date" toml:"send_date"`
	Swipes   []Swipe   `json:"swipes" yaml:"swipes" toml:"swipes"`
	// example: 0
	SwipeID int `json:"swipe_id" yaml:"swipe_id" toml:"swipe_id" example:"0"`
}

// Active returns the selected swipe. Out-of-range SwipeID values yield an empty swipe.
func (m Message) Active() Swipe {
	if m.SwipeID < 0 || m.SwipeID >= len(m.Swipes) {
		return Swipe{SendDate: m.SendDate}
	}
	return m.Swipes[m.SwipeID]
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	out.Swipes = append([]Swipe(nil), m.Swipes...)
	return out
}

// Card is a character or user persona.
type Card struct {
	// example: seraphina
	ID string `json:"id" yaml:"id" toml:"id" example:"seraphina"`
	// example: Seraphina
	Name        string `json:"name" yaml:"name" toml:"name" example:"Seraphina"`
	Description string `json:"description" yaml:"description" toml:"description"`
	Scenario    string `json:"scenario,omitempty" yaml:"scenario,omitempty" toml:"scenario,omitempty"`
	Personality string `json:"personality,omitempty" yaml:"personality,omitempty" toml:"personality,omitempty"`
	// Examples is the example dialogue (mes_example).
	Examples string `json:"mes_example,omitempty" yaml:"mes_example,omitempty" toml:"mes_example,omitempty"`
	// FirstMessage seeds chat-completion requests when enabled.
	FirstMessage string `json:"first_mes,omitempty" yaml:"first_mes,omitempty" toml:"first_mes,omitempty"`
}

// InstructFormat holds the affixes and switches used to serialize a conversation.
type InstructFormat struct {
	// example: Alpaca
	Name             string `json:"name" yaml:"name" toml:"name" example:"Alpaca"`
	SystemPrompt     string `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	SystemPrefix     string `json:"system_prefix" yaml:"system_prefix" toml:"system_prefix"`
	SystemSuffix     string `json:"system_suffix" yaml:"system_suffix" toml:"system_suffix"`
	InputPrefix      string `json:"input_prefix" yaml:"input_prefix" toml:"input_prefix"`
	InputSuffix      string `json:"input_suffix" yaml:"input_suffix" toml:"input_suffix"`
	OutputPrefix     string `json:"output_prefix" yaml:"output_prefix" toml:"output_prefix"`
	LastOutputPrefix string `json:"last_output_prefix,omitempty" yaml:"last_output_prefix,omitempty" toml:"last_output_prefix,omitempty"`
	OutputSuffix     string `json:"output_suffix" yaml:"output_suffix" toml:"output_suffix"`
	// StopSequence is a comma separated list of literal stop strings.
	// example: ### Instruction
	StopSequence     string `json:"stop_sequence" yaml:"stop_sequence" toml:"stop_sequence" example:"### Instruction"`
	Wrap             bool   `json:"wrap" yaml:"wrap" toml:"wrap"`
	Macro            bool   `json:"macro" yaml:"macro" toml:"macro"`
	Names            bool   `json:"names" yaml:"names" toml:"names"`
	NamesForceGroups bool   `json:"names_force_groups" yaml:"names_force_groups" toml:"names_force_groups"`
	Timestamp        bool   `json:"timestamp" yaml:"timestamp" toml:"timestamp"`
	Examples         bool   `json:"examples" yaml:"examples" toml:"examples"`
	Scenario         bool   `json:"scenario" yaml:"scenario" toml:"scenario"`
}

// OutputPrefixFor returns the prefix opening an assistant turn. The newest turn may
// use LastOutputPrefix.
func (f InstructFormat) OutputPrefixFor(last bool) string {
	if last && f.LastOutputPrefix != "" {
		return f.LastOutputPrefix
	}
	return f.OutputPrefix
}

// DefaultInstruct is the Alpaca-style format used when none is configured.
func DefaultInstruct() InstructFormat {
	return InstructFormat{
		Name:         "Default",
		SystemPrompt: "Write {{char}}'s next reply in a chat between {{char}} and {{user}}.",
		SystemPrefix: "### Instruction: ",
		SystemSuffix: "\n",
		InputPrefix:  "### Instruction: ",
		InputSuffix:  "\n",
		OutputPrefix: "### Response: ",
		OutputSuffix: "\n",
		StopSequence: "### Instruction",
	}
}

// ChatEntry is one role-tagged item of a chat-completion request.
type ChatEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
