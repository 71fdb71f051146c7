// chatguard/pkg/runtime/engine_benchmark_test.go

package runtime

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"rgehrsitz/chatguard/pkg/rules"
	"rgehrsitz/chatguard/pkg/sender"
)

func benchmarkSet(b *testing.B, count int) *rules.Set {
	var sb strings.Builder
	for i := 0; i < count; i++ {
		fmt.Fprintf(&sb, "match \\bword%d\\b\nthen replace ***\nthen warn Watch it {player}\n\n", i)
	}
	return loadSet(b, map[string]string{"rules/chat.rs": sb.String()})
}

func BenchmarkEvaluateNoMatch(b *testing.B) {
	set := benchmarkSet(b, 100)
	e := newTestEngine(nil, Options{})
	ev := chat(player("Alice"), "just a perfectly ordinary chat line")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Evaluate(context.Background(), set, ev); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEvaluateMatch(b *testing.B) {
	set := benchmarkSet(b, 100)
	e := newTestEngine(nil, Options{})
	ev := chat(player("Alice"), "this has word42 and word99 in it")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Evaluate(context.Background(), set, ev); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBroadcast(b *testing.B) {
	set := loadSet(b, map[string]string{"messages/join.rs": "group welcome\nthen actionbar Hi {receiver}\nmessage:\n- Welcome {player}\n- Hello {player}\n"})
	e := newTestEngine(nil, Options{})

	receivers := make([]sender.Sender, 50)
	for i := range receivers {
		receivers[i] = player(fmt.Sprintf("player%d", i))
	}
	ev := Event{Category: rules.CategoryJoin, Sender: receivers[0], Receivers: receivers}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Broadcast(context.Background(), set, ev); err != nil {
			b.Fatal(err)
		}
	}
}
