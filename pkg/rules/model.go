// chatguard/pkg/rules/model.go

package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// Category names a rule file and the events it is evaluated for.
type Category string

const (
	CategoryGlobal  Category = "global"
	CategoryChat    Category = "chat"
	CategoryCommand Category = "command"
	CategorySign    Category = "sign"
	CategoryBook    Category = "book"
	CategoryAnvil   Category = "anvil"
	CategoryTag     Category = "tag"

	CategoryJoin  Category = "join"
	CategoryQuit  Category = "quit"
	CategoryKick  Category = "kick"
	CategoryDeath Category = "death"
	CategoryTimed Category = "timed"

	// CategoryGroups is the file holding the shared groups.
	CategoryGroups Category = "groups"
)

// RuleCategories are evaluated with pattern rules, in load order.
var RuleCategories = []Category{CategoryGlobal, CategoryChat, CategoryCommand, CategorySign, CategoryBook, CategoryAnvil, CategoryTag}

// MessageCategories are broadcast categories.
var MessageCategories = []Category{CategoryJoin, CategoryQuit, CategoryKick, CategoryDeath, CategoryTimed}

func ParseCategory(s string) (Category, error) {
	c := Category(s)
	for _, known := range RuleCategories {
		if c == known {
			return c, nil
		}
	}
	for _, known := range MessageCategories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Mode says whether a predicate must hold or vetoes the operator.
type Mode int

const (
	Require Mode = iota
	Ignore
)

func (m Mode) String() string {
	if m == Ignore {
		return "ignore"
	}
	return "require"
}

// Scope binds a predicate to the originator or to the recipient of a broadcast.
type Scope int

const (
	ScopeSender Scope = iota
	ScopeReceiver
)

func (s Scope) String() string {
	if s == ScopeReceiver {
		return "receiver"
	}
	return "sender"
}

type PredicateKind string

const (
	KindPermission PredicateKind = "perm"
	KindScript     PredicateKind = "script"
	KindVariable   PredicateKind = "variable"
	KindKey        PredicateKind = "key"
	KindWorld      PredicateKind = "world"
	KindRegion     PredicateKind = "region"
	KindChannel    PredicateKind = "channel"
	KindGameMode   PredicateKind = "gamemode"
	KindCommand    PredicateKind = "command"
	KindString     PredicateKind = "string"
	KindSelf       PredicateKind = "self"
	// KindContext matches a caller-supplied variable, such as a death
	// cause, against a set of values.
	KindContext PredicateKind = "context"
)

// Predicate is one (kind, scope, argument) condition.
type Predicate struct {
	Mode  Mode
	Kind  PredicateKind
	Scope Scope

	// Values holds worlds, regions, game modes, commands or context values.
	Values []string
	// Channels maps channel name to a required mode, "" for any mode.
	Channels map[string]string
	// Key is the data key, the variable placeholder or the context variable.
	Key     string
	Script  string
	Expect  bool
	Pattern *regexp2.Regexp
	// Message is shown when a required permission is missing.
	Message string
	Line    int
}

// slot identifies predicates that may not be declared twice.
func (p *Predicate) slot() string {
	return fmt.Sprintf("%s %s %s %s", p.Mode, p.Scope, p.Kind, p.Key)
}

// Cooldown is a delay with an optional message shown while it runs.
type Cooldown struct {
	Duration time.Duration
	Message  string
}

type Notify struct {
	Permission string
	Message    string
}

type Discord struct {
	Channel string
	Message string
}

type FileWrite struct {
	Path    string
	Message string
}

type Warn struct {
	ID      string
	Message string
}

type PointGrant struct {
	Set     string
	Formula string
}

type Toast struct {
	Material string
	Style    string
	Message  string
}

type Title struct {
	Title    string
	Subtitle string
	FadeIn   int
	Stay     int
	FadeOut  int
}

type BossBar struct {
	Color   string
	Style   string
	Seconds int
	Message string
}

type KeyedScript struct {
	Key    string
	Script string
}

// Actions is the fixed action vocabulary. Execution order is fixed by the
// engine, not by declaration order.
type Actions struct {
	PlayerCommands  []string
	ConsoleCommands []string
	ProxyCommands   []string
	Logs            []string
	Notifies        []Notify
	Discords        []Discord
	Writes          []FileWrite
	Warns           []Warn
	Kick            *string
	Fine            float64
	HasFine         bool
	Points          []PointGrant
	Sounds          []string
	Book            string
	Toast           *Toast
	Title           *Title
	ActionBar       string
	BossBar         *BossBar
	SaveData        []KeyedScript
}

// Operator is the condition/action record shared by every rule kind. It is
// immutable once loaded; runtime state lives in the engine.
type Operator struct {
	Category Category
	Name     string
	File     string
	Line     int

	Begins      time.Time
	Expires     time.Time
	Delay       *Cooldown
	PlayerDelay *Cooldown

	Predicates []Predicate
	Actions    Actions

	Abort         bool
	Deny          bool
	DenySilently  bool
	IgnoreLogging bool
	IgnoreSpying  bool
	IgnoreVerbose bool
	Disabled      bool

	RequireDiscord bool
	IgnoreDiscord  bool
	IgnoreMuted    bool
	Spy            bool

	kind string
}

// ID is stable across reloads of an unchanged file.
func (o *Operator) ID() string {
	return string(o.Category) + "/" + o.Name
}

func (o *Operator) String() string {
	return fmt.Sprintf("%s '%s' (%s:%d)", o.kind, o.Name, o.File, o.Line)
}

// PredicatesIn returns predicates with the given mode and scope.
func (o *Operator) PredicatesIn(mode Mode, scope Scope) []*Predicate {
	var out []*Predicate
	for i := range o.Predicates {
		p := &o.Predicates[i]
		if p.Mode == mode && p.Scope == scope {
			out = append(out, p)
		}
	}
	return out
}

// Replacement is one "before replace" substitution.
type Replacement struct {
	Pattern *regexp2.Regexp
	With    string
}

// Rewrite holds the text rewriting strategies rules and groups share.
type Rewrite struct {
	IgnoreCommandPrefix bool
	BeforeReplace       []Replacement
	Replacements        []string
	Rewrites            []string
	WorldRewrites       map[string][]string
}

// Group is a named shared operator referenced by rules.
type Group struct {
	Operator
	Rewrite
}

// Rule is a pattern operator.
type Rule struct {
	Operator
	Rewrite

	Match   string
	Pattern *regexp2.Regexp
	// Label is the optional "name" statement.
	Label string
	Group string

	IgnoreCategories []Category
	StripColors      *bool
	StripAccents     *bool
}

// DisplayName prefers the label, then the group, like log lines do.
func (r *Rule) DisplayName() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Group
}

// Ignores reports whether a global rule opted out of category.
func (r *Rule) Ignores(category Category) bool {
	for _, c := range r.IgnoreCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Message is an event-symmetric broadcast operator.
type Message struct {
	Operator

	Messages       []string
	Prefix         string
	Suffix         string
	Proxy          bool
	Random         bool
	ForeachConsole []string

	listing bool
}

// Ruleset is one rule file.
type Ruleset struct {
	Category Category
	Imports  []Category
	Rules    []*Rule
}

// Set is everything one load produced.
type Set struct {
	Rulesets map[Category]*Ruleset
	Groups   map[string]*Group
	Messages map[Category][]*Message
	LoadedAt time.Time
}

func NewSet() *Set {
	return &Set{
		Rulesets: make(map[Category]*Ruleset),
		Groups:   make(map[string]*Group),
		Messages: make(map[Category][]*Message),
	}
}

// RulesFor returns the category's rules with imported categories' rules in
// front, in the order the imports were declared.
func (s *Set) RulesFor(category Category) []*Rule {
	own, ok := s.Rulesets[category]
	if !ok {
		return nil
	}
	var out []*Rule
	for _, imported := range own.Imports {
		if rs, ok := s.Rulesets[imported]; ok {
			out = append(out, rs.Rules...)
		}
	}
	return append(out, own.Rules...)
}

// FindRule looks a rule up by its label, case-insensitively.
func (s *Set) FindRule(label string) *Rule {
	for _, rs := range s.Rulesets {
		for _, r := range rs.Rules {
			if r.Label != "" && strings.EqualFold(r.Label, label) {
				return r
			}
		}
	}
	return nil
}

// HasMessage reports whether an operator with this ID is part of the set.
func (s *Set) HasMessage(category Category, name string) bool {
	for _, m := range s.Messages[category] {
		if m.Name == name {
			return true
		}
	}
	return false
}
