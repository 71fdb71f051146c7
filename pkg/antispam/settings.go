// chatguard/pkg/antispam/settings.go

package antispam

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"gopkg.in/yaml.v3"

	"rgehrsitz/chatguard/pkg/logging"
	"rgehrsitz/chatguard/pkg/rules"
	"rgehrsitz/chatguard/pkg/timeutil"
	"rgehrsitz/chatguard/pkg/warnings"
)

// Duration is a "<amount> <unit>" span that remembers how it was written.
type Duration struct {
	time.Duration
	Raw string
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := timeutil.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration, d.Raw = parsed, text
	return nil
}

func (d Duration) String() string {
	if d.Raw != "" {
		return d.Raw
	}
	return d.Duration.String()
}

func span(text string) Duration {
	d, err := timeutil.ParseDuration(text)
	if err != nil {
		panic(err)
	}
	return Duration{Duration: d, Raw: text}
}

// Percent is a fraction in [0, 1], written as "80%" or 0.8.
type Percent float64

func (p *Percent) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	scale := 1.0
	if strings.HasSuffix(text, "%") {
		text = strings.TrimSpace(strings.TrimSuffix(text, "%"))
		scale = 100
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("line %d: invalid percentage %q", node.Line, node.Value)
	}
	value /= scale
	if value < 0 || value > 1 {
		return fmt.Errorf("line %d: percentage %q out of range", node.Line, node.Value)
	}
	*p = Percent(value)
	return nil
}

// Whitelist is a list of case-insensitive regular expressions. Plain words
// are valid expressions, so the same list serves word lookups.
type Whitelist struct {
	Entries  []string
	patterns []*regexp2.Regexp
}

func NewWhitelist(entries ...string) (Whitelist, error) {
	w := Whitelist{Entries: entries}
	for _, entry := range entries {
		re, err := rules.CompilePattern(entry)
		if err != nil {
			return Whitelist{}, fmt.Errorf("invalid whitelist entry %q: %w", entry, err)
		}
		w.patterns = append(w.patterns, re)
	}
	return w, nil
}

func (w *Whitelist) UnmarshalYAML(node *yaml.Node) error {
	var entries []string
	if err := node.Decode(&entries); err != nil {
		return err
	}
	compiled, err := NewWhitelist(entries...)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*w = compiled
	return nil
}

// Matches reports whether any entry is found in text.
func (w Whitelist) Matches(text string) bool {
	for _, re := range w.patterns {
		if ok, err := re.MatchString(text); err == nil && ok {
			return true
		}
	}
	return false
}

// Contains reports whether word equals an entry, ignoring case.
func (w Whitelist) Contains(word string) bool {
	for _, entry := range w.Entries {
		if strings.EqualFold(entry, word) {
			return true
		}
	}
	return false
}

// Limits are shared by the chat and command sections.
type Limits struct {
	Delay               Duration  `yaml:"delay"`
	WhitelistDelay      Whitelist `yaml:"whitelist_delay"`
	Similarity          Percent   `yaml:"similarity"`
	SimilarityPast      int       `yaml:"similarity_past_messages"`
	SimilarityStartAt   int       `yaml:"similarity_start_at"`
	SimilarityForgive   Duration  `yaml:"similarity_forgive_time"`
	WhitelistSimilarity Whitelist `yaml:"whitelist_similarity"`
	LimitPeriod         Duration  `yaml:"limit_period"`
	LimitMax            int       `yaml:"limit_max"`
}

type ChatSettings struct {
	Limits        `yaml:",inline"`
	ChannelDelays map[string]Duration `yaml:"channel_delays"`

	Parrot           bool      `yaml:"parrot"`
	ParrotDelay      Duration  `yaml:"parrot_delay"`
	ParrotSimilarity Percent   `yaml:"parrot_similarity"`
	ParrotWhitelist  Whitelist `yaml:"parrot_whitelist"`
}

type CommandSettings struct {
	Limits            `yaml:",inline"`
	SimilarityMinArgs int `yaml:"similarity_min_args"`
}

type CapsSettings struct {
	Enabled bool `yaml:"enabled"`
	// EnabledInCommands lists command labels whose arguments are checked.
	EnabledInCommands []string  `yaml:"enabled_in_commands"`
	MinMessageLength  int       `yaml:"min_message_length"`
	MinCapsPercentage Percent   `yaml:"min_caps_percentage"`
	MinCapsInRow      int       `yaml:"min_caps_in_a_row"`
	Whitelist         Whitelist `yaml:"whitelist"`
}

type JoinFloodSettings struct {
	Enabled    bool     `yaml:"enabled"`
	Threshold  Duration `yaml:"threshold"`
	MinPlayers int      `yaml:"min_players"`
	Commands   []string `yaml:"commands"`
}

type BotSettings struct {
	BlockChatUntilMoved      bool     `yaml:"block_chat_until_moved"`
	BlockCommandsUntilMoved  []string `yaml:"block_commands_until_moved"`
	CooldownChatAfterJoin    Duration `yaml:"cooldown_chat_after_join"`
	CooldownCommandAfterJoin Duration `yaml:"cooldown_command_after_join"`

	JoinFlood JoinFloodSettings `yaml:"join_flood"`
}

// GrammarSettings apply to chat. A zero length turns the step off.
type GrammarSettings struct {
	CapitalizeMinLength int `yaml:"capitalize_min_length"`
	InsertDotMinLength  int `yaml:"insert_dot_min_length"`
}

// Triggers route violations into the warning point ledger.
type Triggers struct {
	ChatDelay         warnings.Trigger `yaml:"chat_delay"`
	CommandDelay      warnings.Trigger `yaml:"command_delay"`
	ChatLimit         warnings.Trigger `yaml:"chat_limit"`
	CommandLimit      warnings.Trigger `yaml:"command_limit"`
	ChatSimilarity    warnings.Trigger `yaml:"chat_similarity"`
	CommandSimilarity warnings.Trigger `yaml:"command_similarity"`
	Caps              warnings.Trigger `yaml:"caps"`
}

// Messages are the warnings shown to a blocked sender. Each accepts the
// placeholders listed next to its default.
type Messages struct {
	Parrot         string `yaml:"parrot"`
	MoveChat       string `yaml:"move_chat"`
	MoveCommand    string `yaml:"move_command"`
	JoinChat       string `yaml:"delay_after_join_chat"`
	JoinCommand    string `yaml:"delay_after_join_command"`
	DelayChat      string `yaml:"delay_chat"`
	DelayCommand   string `yaml:"delay_command"`
	Period         string `yaml:"period"`
	Caps           string `yaml:"caps"`
	SimilarChat    string `yaml:"similarity_chat"`
	SimilarCommand string `yaml:"similarity_command"`
}

// Settings is the antispam document:
//
//	chat:
//	  delay: 2 seconds
//	  similarity: 80%
//	  parrot: true
//	commands:
//	  delay: 1 second
//	anti_caps:
//	  enabled: true
//	  min_caps_percentage: 50%
//	anti_bot:
//	  block_chat_until_moved: true
//	grammar:
//	  insert_dot_min_length: 5
type Settings struct {
	Chat     ChatSettings    `yaml:"chat"`
	Commands CommandSettings `yaml:"commands"`
	AntiCaps CapsSettings    `yaml:"anti_caps"`
	AntiBot  BotSettings     `yaml:"anti_bot"`
	Grammar  GrammarSettings `yaml:"grammar"`
	Triggers Triggers        `yaml:"triggers"`
	Messages Messages        `yaml:"messages"`
}

func DefaultSettings() *Settings {
	return &Settings{
		Chat: ChatSettings{
			Limits: Limits{
				Delay:             span("1 second"),
				Similarity:        0.8,
				SimilarityPast:    5,
				SimilarityStartAt: 1,
				SimilarityForgive: span("30 minutes"),
				LimitPeriod:       span("10 seconds"),
				LimitMax:          5,
			},
			ParrotDelay:      span("10 seconds"),
			ParrotSimilarity: 0.9,
		},
		Commands: CommandSettings{
			Limits: Limits{
				Delay:             span("1 second"),
				Similarity:        0.8,
				SimilarityPast:    5,
				SimilarityStartAt: 1,
				SimilarityForgive: span("30 minutes"),
				LimitPeriod:       span("10 seconds"),
				LimitMax:          5,
			},
			SimilarityMinArgs: 1,
		},
		AntiCaps: CapsSettings{
			MinMessageLength:  5,
			MinCapsPercentage: 0.5,
			MinCapsInRow:      5,
		},
		AntiBot: BotSettings{
			JoinFlood: JoinFloodSettings{Threshold: span("4 seconds"), MinPlayers: 4},
		},
		Messages: Messages{
			Parrot:         "Please do not copy messages of other players.",
			MoveChat:       "Please move before chatting.",
			MoveCommand:    "Please move before running commands.",
			JoinChat:       "Please wait {seconds} second(s) after joining before chatting.",
			JoinCommand:    "Please wait {seconds} second(s) after joining before running commands.",
			DelayChat:      "Please wait {seconds} second(s) before your next message.",
			DelayCommand:   "Please wait {seconds} second(s) before your next command.",
			Period:         "You may only send {max} {type} per {period}.",
			Caps:           "Please do not use so many capital letters in your {type}.",
			SimilarChat:    "Please do not repeat the same message ({similarity}% similar).",
			SimilarCommand: "Please do not repeat the same command ({similarity}% similar).",
		},
	}
}

// ParseSettings decodes an antispam document over the defaults.
func ParseSettings(data []byte) (*Settings, error) {
	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, logging.NewError(logging.ErrorTypeConfig, "invalid antispam settings", err, nil)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadSettings reads an antispam document from path.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, logging.NewError(logging.ErrorTypeConfig, "failed to read antispam settings", err, map[string]interface{}{"file": path})
	}
	return ParseSettings(data)
}

func (s *Settings) Validate() error {
	for name, value := range map[string]int{
		"chat.similarity_past_messages":     s.Chat.SimilarityPast,
		"chat.limit_max":                    s.Chat.LimitMax,
		"commands.similarity_past_messages": s.Commands.SimilarityPast,
		"commands.limit_max":                s.Commands.LimitMax,
		"commands.similarity_min_args":      s.Commands.SimilarityMinArgs,
		"anti_bot.join_flood.min_players":   s.AntiBot.JoinFlood.MinPlayers,
	} {
		if value < 0 {
			return logging.NewError(logging.ErrorTypeConfig, name+" must not be negative", nil, map[string]interface{}{"value": value})
		}
	}
	if s.AntiBot.JoinFlood.Enabled && s.AntiBot.JoinFlood.MinPlayers < 2 {
		return logging.NewError(logging.ErrorTypeConfig, "anti_bot.join_flood.min_players must be at least 2", nil,
			map[string]interface{}{"value": s.AntiBot.JoinFlood.MinPlayers})
	}
	return nil
}

// Window returns the longest span any stage looks back over.
func (s *Settings) Window() time.Duration {
	longest := time.Duration(0)
	for _, d := range []time.Duration{
		s.Chat.Delay.Duration, s.Chat.SimilarityForgive.Duration, s.Chat.LimitPeriod.Duration, s.Chat.ParrotDelay.Duration,
		s.Commands.Delay.Duration, s.Commands.SimilarityForgive.Duration, s.Commands.LimitPeriod.Duration,
		s.AntiBot.JoinFlood.Threshold.Duration,
	} {
		if d > longest {
			longest = d
		}
	}
	for _, d := range s.Chat.ChannelDelays {
		if d.Duration > longest {
			longest = d.Duration
		}
	}
	return longest
}

func (s *Settings) limits(kind Kind) *Limits {
	if kind == KindCommand {
		return &s.Commands.Limits
	}
	return &s.Chat.Limits
}

// historySize is how many outputs per kind the stages need to see.
func (s *Settings) historySize(kind Kind) int {
	l := s.limits(kind)
	size := l.SimilarityPast
	if l.LimitMax > size {
		size = l.LimitMax
	}
	if size < 1 {
		size = 1
	}
	return size
}

func containsFold(list []string, word string) bool {
	for _, entry := range list {
		if strings.EqualFold(strings.TrimPrefix(entry, "/"), strings.TrimPrefix(word, "/")) {
			return true
		}
	}
	return false
}
