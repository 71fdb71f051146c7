// chatguard/pkg/sender/sender.go

// Package sender describes the identities events originate from and are
// delivered to. The host game server owns them; the engine only reads them.
package sender

import (
	"strings"
)

// Origin says where a sender typed from.
type Origin string

const (
	OriginPlayer  Origin = "player"
	OriginConsole Origin = "console"
	OriginDiscord Origin = "discord"
)

// Location is a block position.
type Location struct {
	World string `json:"world" yaml:"world"`
	X     int    `json:"x" yaml:"x"`
	Y     int    `json:"y" yaml:"y"`
	Z     int    `json:"z" yaml:"z"`
}

func (l Location) IsZero() bool {
	return l == Location{}
}

// Sender is a connected identity with the lookups rule predicates need.
type Sender interface {
	ID() string
	Name() string
	Origin() Origin
	HasPermission(permission string) bool
	World() string
	Regions() []string
	// Channels maps every joined channel to the sender's mode in it.
	Channels() map[string]string
	GameMode() string
	Location() Location
	Muted() bool
	Data(key string) (interface{}, bool)
	DataKeys() []string
	// Ignores reports whether the sender opted out of messages of a
	// category, or of one named operator in it.
	Ignores(category, name string) bool
}

// Snapshot is a plain Sender, decoded from events or built in tests.
type Snapshot struct {
	UniqueID     string                 `json:"id"`
	Username     string                 `json:"name"`
	From         Origin                 `json:"origin,omitempty"`
	Permissions  []string               `json:"permissions,omitempty"`
	WorldName    string                 `json:"world,omitempty"`
	RegionNames  []string               `json:"regions,omitempty"`
	ChannelModes map[string]string      `json:"channels,omitempty"`
	Mode         string                 `json:"gamemode,omitempty"`
	Position     Location               `json:"location,omitempty"`
	IsMuted      bool                   `json:"muted,omitempty"`
	Values       map[string]interface{} `json:"data,omitempty"`
	Opted        []string               `json:"ignoring,omitempty"`
}

func (s *Snapshot) ID() string { return s.UniqueID }
func (s *Snapshot) Name() string { return s.Username }

func (s *Snapshot) Origin() Origin {
	if s.From == "" {
		return OriginPlayer
	}
	return s.From
}

// HasPermission grants everything to the console. Otherwise a permission
// matches exactly, through "*", or through a "prefix.*" wildcard.
func (s *Snapshot) HasPermission(permission string) bool {
	if s.Origin() == OriginConsole {
		return true
	}
	for _, p := range s.Permissions {
		if p == "*" || strings.EqualFold(p, permission) {
			return true
		}
		if strings.HasSuffix(p, ".*") && strings.HasPrefix(strings.ToLower(permission), strings.ToLower(strings.TrimSuffix(p, "*"))) {
			return true
		}
	}
	return false
}

func (s *Snapshot) World() string { return s.WorldName }
func (s *Snapshot) Regions() []string { return s.RegionNames }
func (s *Snapshot) Channels() map[string]string { return s.ChannelModes }
func (s *Snapshot) GameMode() string { return s.Mode }
func (s *Snapshot) Location() Location { return s.Position }
func (s *Snapshot) Muted() bool { return s.IsMuted }

func (s *Snapshot) Data(key string) (interface{}, bool) {
	v, ok := s.Values[key]
	return v, ok
}

func (s *Snapshot) DataKeys() []string {
	keys := make([]string, 0, len(s.Values))
	for k := range s.Values {
		keys = append(keys, k)
	}
	return keys
}

// Ignores matches "category" or "category/name" entries.
func (s *Snapshot) Ignores(category, name string) bool {
	for _, entry := range s.Opted {
		if strings.EqualFold(entry, category) || (name != "" && strings.EqualFold(entry, category+"/"+name)) {
			return true
		}
	}
	return false
}

// Console is the server console.
var Console Sender = &Snapshot{UniqueID: "console", Username: "Console", From: OriginConsole}
