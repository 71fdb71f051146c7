// chatguard/pkg/sender/sender_test.go

package sender

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotPermissions(t *testing.T) {
	s := &Snapshot{UniqueID: "u1", Username: "Steve", Permissions: []string{"chatguard.bypass.*", "chat.color"}}

	assert.True(t, s.HasPermission("chat.color"))
	assert.True(t, s.HasPermission("chatguard.bypass.caps"))
	assert.False(t, s.HasPermission("chatguard.notify.swear"))
	assert.True(t, Console.HasPermission("anything.at.all"))
	assert.Equal(t, OriginPlayer, s.Origin())
}

func TestSnapshotIgnores(t *testing.T) {
	s := &Snapshot{Opted: []string{"death", "join/vip"}}

	assert.True(t, s.Ignores("death", "anything"))
	assert.True(t, s.Ignores("join", "vip"))
	assert.False(t, s.Ignores("join", "default"))
	assert.False(t, s.Ignores("join", ""))
}

func TestSnapshotData(t *testing.T) {
	s := &Snapshot{Values: map[string]interface{}{"warned": true}}

	v, ok := s.Data("warned")
	assert.True(t, ok)
	assert.Equal(t, true, v)

	_, ok = s.Data("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"warned"}, s.DataKeys())
}
