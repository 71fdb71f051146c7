// chatguard/pkg/warnings/config.go

package warnings

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"rgehrsitz/chatguard/pkg/logging"
	"rgehrsitz/chatguard/pkg/timeutil"
)

// Config is the warning_points section of the settings document:
//
//	warning_points:
//	  enabled: true
//	  sets:
//	    spam:
//	      5: ["warn Stop spamming!"]
//	      20: ["mute {player} 5m"]
//	  reset_task:
//	    period: 10 minutes
//	    remove:
//	      spam: 2
type Config struct {
	Enabled   bool                        `yaml:"enabled"`
	Sets      map[string]map[int][]string `yaml:"sets"`
	ResetTask ResetTask                   `yaml:"reset_task"`
}

type ResetTask struct {
	Period string           `yaml:"period"`
	Remove map[string]int64 `yaml:"remove"`
}

// Interval returns the decay period, zero when decay is off.
func (r ResetTask) Interval() (time.Duration, error) {
	if r.Period == "" {
		return 0, nil
	}
	return timeutil.ParseDuration(r.Period)
}

// DefaultConfig has the ledger enabled with no sets.
func DefaultConfig() *Config {
	return &Config{Enabled: true}
}

// ParseConfig decodes a warning_points document.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, logging.NewError(logging.ErrorTypeConfig, "invalid warning points settings", err, nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads a warning_points document from path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, logging.NewError(logging.ErrorTypeConfig, "failed to read warning points settings", err, map[string]interface{}{"file": path})
	}
	return ParseConfig(data)
}

func (c *Config) Validate() error {
	if _, err := c.ResetTask.Interval(); err != nil {
		return logging.NewError(logging.ErrorTypeConfig, "invalid reset_task period", err, map[string]interface{}{"period": c.ResetTask.Period})
	}
	for set, amount := range c.ResetTask.Remove {
		if _, ok := c.Sets[set]; !ok {
			logging.Logger.Warn().Str("set", set).Msg("reset_task removes points from an unknown warning set")
		}
		if amount < 0 {
			return logging.NewError(logging.ErrorTypeConfig, fmt.Sprintf("reset_task amount for %q must not be negative", set), nil, nil)
		}
	}
	return nil
}

// WarnAction fires once a sender's total reaches Trigger.
type WarnAction struct {
	Trigger  int64
	Commands []string
}

func (a WarnAction) String() string {
	return "Action[" + strconv.FormatInt(a.Trigger, 10) + "]"
}

// WarnSet is a named list of actions sorted by ascending trigger.
type WarnSet struct {
	Name    string
	Actions []WarnAction
}

// Highest returns the action with the greatest trigger not above total.
func (s *WarnSet) Highest(total int64) *WarnAction {
	var highest *WarnAction
	for i := range s.Actions {
		a := &s.Actions[i]
		if total < a.Trigger {
			continue
		}
		if highest == nil || a.Trigger > highest.Trigger {
			highest = a
		}
	}
	return highest
}

func buildSets(cfg *Config) map[string]*WarnSet {
	sets := make(map[string]*WarnSet, len(cfg.Sets))
	for name, triggers := range cfg.Sets {
		set := &WarnSet{Name: name}
		for trigger, commands := range triggers {
			set.Actions = append(set.Actions, WarnAction{Trigger: int64(trigger), Commands: commands})
		}
		sort.Slice(set.Actions, func(i, j int) bool { return set.Actions[i].Trigger < set.Actions[j].Trigger })
		sets[name] = set
	}
	return sets
}
