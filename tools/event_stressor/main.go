// chatguard/tools/event_stressor/main.go

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"

	"rgehrsitz/chatguard/pkg/sender"
)

// event mirrors the payload chatguardd reads from its events channel.
type event struct {
	Kind            string             `json:"kind"`
	Category        string             `json:"category,omitempty"`
	Sender          *sender.Snapshot   `json:"sender,omitempty"`
	ReceiversOnline []*sender.Snapshot `json:"receivers_online,omitempty"`
	Message         string             `json:"message"`
	Channel         string             `json:"channel,omitempty"`
}

type options struct {
	redisAddr  string
	channel    string
	updateRate int
	players    int
	spamRatio  float64
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	flags := flag.NewFlagSet("event_stressor", flag.ContinueOnError)
	flags.StringVar(&opts.redisAddr, "redis", "localhost:6379", "Redis address")
	flags.StringVar(&opts.channel, "channel", "chatguard:events", "Events channel")
	flags.IntVar(&opts.updateRate, "rate", 10, "Number of events per second")
	flags.IntVar(&opts.players, "players", 20, "Number of simulated players")
	flags.Float64Var(&opts.spamRatio, "spam", 0.2, "Share of events that repeat the previous message")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if opts.updateRate <= 0 || opts.players <= 0 {
		return nil, fmt.Errorf("rate and players must be positive")
	}
	return opts, nil
}

func newPlayers(n int) []*sender.Snapshot {
	players := make([]*sender.Snapshot, n)
	for i := range players {
		players[i] = &sender.Snapshot{
			UniqueID:  gofakeit.UUID(),
			Username:  gofakeit.Username(),
			WorldName: "world",
			Position: sender.Location{
				World: "world",
				X:     gofakeit.Number(-500, 500),
				Y:     64,
				Z:     gofakeit.Number(-500, 500),
			},
		}
	}
	return players
}

// generator produces a stream of chat, command and movement events. A
// share of chat events repeats the sender's last message so the antispam
// stages have something to catch.
type generator struct {
	players   []*sender.Snapshot
	spamRatio float64
	last      map[string]string
}

func newGenerator(players []*sender.Snapshot, spamRatio float64) *generator {
	return &generator{players: players, spamRatio: spamRatio, last: make(map[string]string)}
}

func (g *generator) join() []event {
	events := make([]event, len(g.players))
	for i, p := range g.players {
		events[i] = event{Kind: "join", Sender: p, ReceiversOnline: g.players[:i+1]}
	}
	return events
}

func (g *generator) next() event {
	p := g.players[gofakeit.Number(0, len(g.players)-1)]
	switch roll := gofakeit.Float64Range(0, 1); {
	case roll < 0.1:
		p.Position.X += gofakeit.Number(1, 5)
		return event{Kind: "move", Sender: p}
	case roll < 0.3:
		return event{Kind: "command", Sender: p, Message: "/" + gofakeit.Verb() + " " + gofakeit.Noun()}
	}

	message := sentence(gofakeit.Number(2, 8))
	if last, ok := g.last[p.ID()]; ok && gofakeit.Float64Range(0, 1) < g.spamRatio {
		message = last
	}
	if gofakeit.Number(0, 9) == 0 {
		message = strings.ToUpper(message)
	}
	g.last[p.ID()] = message
	return event{Kind: "chat", Sender: p, Message: message}
}

func sentence(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = gofakeit.Word()
	}
	return strings.Join(words, " ")
}

func publish(ctx context.Context, rdb *redis.Client, channel string, ev event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return rdb.Publish(ctx, channel, payload).Err()
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	fmt.Printf("Connected to Redis at %s\n", opts.redisAddr)
	fmt.Printf("Publishing events at a rate of %d per second\n", opts.updateRate)

	gen := newGenerator(newPlayers(opts.players), opts.spamRatio)
	for _, ev := range gen.join() {
		if err := publish(ctx, rdb, opts.channel, ev); err != nil {
			fmt.Printf("Error publishing join: %v\n", err)
		}
	}

	ticker := time.NewTicker(time.Second / time.Duration(opts.updateRate))
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("Published %d events\n", sent)
			return
		case <-ticker.C:
			ev := gen.next()
			if err := publish(ctx, rdb, opts.channel, ev); err != nil {
				fmt.Printf("Error publishing event: %v\n", err)
				continue
			}
			sent++
		}
	}
}
