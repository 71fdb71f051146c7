// chatguard/tools/event_stressor/event_stressor_main_test.go

package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.redisAddr)
	assert.Equal(t, "chatguard:events", opts.channel)
	assert.Equal(t, 10, opts.updateRate)
	assert.Equal(t, 20, opts.players)

	opts, err = parseFlags([]string{"-rate", "50", "-players", "3", "-channel", "ev"})
	require.NoError(t, err)
	assert.Equal(t, 50, opts.updateRate)
	assert.Equal(t, 3, opts.players)
	assert.Equal(t, "ev", opts.channel)

	_, err = parseFlags([]string{"-rate", "0"})
	assert.Error(t, err)
}

func TestGeneratorJoin(t *testing.T) {
	players := newPlayers(3)
	events := newGenerator(players, 0).join()

	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, "join", ev.Kind)
		assert.Equal(t, players[i].ID(), ev.Sender.ID())
		assert.Len(t, ev.ReceiversOnline, i+1)
	}
}

func TestGeneratorNext(t *testing.T) {
	gen := newGenerator(newPlayers(5), 1)

	kinds := make(map[string]int)
	for i := 0; i < 200; i++ {
		ev := gen.next()
		kinds[ev.Kind]++
		require.NotNil(t, ev.Sender)
		if ev.Kind != "move" {
			assert.NotEmpty(t, ev.Message)
		}
		if ev.Kind == "command" {
			assert.Equal(t, byte('/'), ev.Message[0])
		}
	}
	assert.Positive(t, kinds["chat"])
	assert.NotEmpty(t, gen.last)
}

func TestPublish(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	pubsub := rdb.Subscribe(ctx, "ev")
	defer pubsub.Close()
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	players := newPlayers(1)
	require.NoError(t, publish(ctx, rdb, "ev", event{Kind: "chat", Sender: players[0], Message: "hello"}))

	msg, err := pubsub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
	assert.Equal(t, "chat", decoded["kind"])
	assert.Equal(t, "hello", decoded["message"])
	assert.Equal(t, players[0].ID(), decoded["sender"].(map[string]interface{})["id"])
}
