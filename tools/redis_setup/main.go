// chatguard/tools/redis_setup/main.go

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"rgehrsitz/chatguard/pkg/store"
)

var ctx = context.Background()

const reloadChannel = "chatguard:reload"

// seed is the sample state written on startup: warning points per sender
// and set, plus keyed sender data.
var seed = struct {
	points map[string]map[string]int64
	data   map[string]map[string]interface{}
}{
	points: map[string]map[string]int64{
		"alice-id": {"spam": 3, "swear": 1},
		"bob-id":   {"ads": 12},
	},
	data: map[string]map[string]interface{}{
		"alice-id": {"greeted": true, "nickname": "Al"},
		"bob-id":   {"warnings": 2.0},
	},
}

func main() {
	addr := flag.String("redis", "localhost:6379", "Redis address")
	flag.Parse()

	st := connectToRedis(*addr)
	defer st.Close()
	if err := initializeRedis(st); err != nil {
		os.Exit(1)
	}
	startCLI(st, os.Stdin, os.Stdout)
}

func connectToRedis(addr string) *store.RedisStore {
	return store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr: addr,
	}))
}

func initializeRedis(st store.Store) error {
	for id, sets := range seed.points {
		for set, amount := range sets {
			if _, err := st.AddPoints(ctx, id, set, amount); err != nil {
				fmt.Printf("Error adding points for %s: %v\n", id, err)
				return err
			}
			fmt.Printf("Gave %s %d %s points\n", id, amount, set)
		}
	}
	for id, values := range seed.data {
		for key, value := range values {
			if err := st.SetData(ctx, id, key, value); err != nil {
				fmt.Printf("Error setting %s for %s: %v\n", key, id, err)
				return err
			}
			fmt.Printf("Set %s.%s to %v\n", id, key, value)
		}
	}
	return nil
}

func startCLI(st store.Store, in io.Reader, out io.Writer) {
	reader := bufio.NewReader(in)

	for {
		fmt.Fprint(out, "Enter command (points <id> <set> <amount>, data <id> <key> <json>, show <id>, reload or exit): ")
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)

		if input == "exit" || (err != nil && input == "") {
			break
		}

		result, cmdErr := processCommand(st, input)
		if cmdErr != nil {
			fmt.Fprintf(out, "Error: %v\n", cmdErr)
			continue
		}
		fmt.Fprintln(out, result)
	}
}

func processCommand(st store.Store, input string) (string, error) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return "", fmt.Errorf("invalid command. Use 'points', 'data', 'show' or 'reload'")
	}

	switch parts[0] {
	case "points":
		if len(parts) != 4 {
			return "", fmt.Errorf("invalid command. Use 'points <id> <set> <amount>'")
		}
		amount, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid amount %q", parts[3])
		}
		var total int64
		if amount >= 0 {
			total, err = st.AddPoints(ctx, parts[1], parts[2], amount)
		} else {
			total, err = st.RemovePoints(ctx, parts[1], parts[2], -amount)
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s now has %d %s points", parts[1], total, parts[2]), nil

	case "data":
		if len(parts) < 4 {
			return "", fmt.Errorf("invalid command. Use 'data <id> <key> <json>'")
		}
		raw := strings.Join(parts[3:], " ")
		var value interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		if err := st.SetData(ctx, parts[1], parts[2], value); err != nil {
			return "", err
		}
		return fmt.Sprintf("Set %s.%s to %v", parts[1], parts[2], value), nil

	case "show":
		if len(parts) != 2 {
			return "", fmt.Errorf("invalid command. Use 'show <id>'")
		}
		return show(st, parts[1])

	case "reload":
		if err := st.Publish(ctx, reloadChannel, "reload"); err != nil {
			return "", err
		}
		return "Published reload to " + reloadChannel, nil
	}
	return "", fmt.Errorf("invalid command %q", parts[0])
}

func show(st store.Store, id string) (string, error) {
	points, err := st.ListPoints(ctx, id)
	if err != nil {
		return "", err
	}
	data, err := st.AllData(ctx, id)
	if err != nil {
		return "", err
	}

	var lines []string
	for set, amount := range points {
		lines = append(lines, fmt.Sprintf("points %s=%d", set, amount))
	}
	for key, value := range data {
		lines = append(lines, fmt.Sprintf("data %s=%v", key, value))
	}
	sort.Strings(lines)
	if len(lines) == 0 {
		return id + " has no points or data", nil
	}
	return strings.Join(lines, "\n"), nil
}
