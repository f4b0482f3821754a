package usecase

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// memoryRedis answers GET and SET over RESP2 from an in-memory map.
type memoryRedis struct {
	mu     sync.Mutex
	values map[string]string
	sets   [][]string
}

func newMemoryRedisClient(t *testing.T, backend *memoryRedis) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "memory:6379",
		Dialer: func(ctx context.Context, network, addr string) (net.Conn, error) {
			clientConn, serverConn := net.Pipe()
			go backend.serve(serverConn)
			return clientConn, nil
		},
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func (m *memoryRedis) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		args, err := readRESPCommand(r)
		if err != nil {
			return
		}
		if _, err := io.WriteString(conn, m.reply(args)); err != nil {
			return
		}
	}
}

func (m *memoryRedis) reply(args []string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch strings.ToUpper(args[0]) {
	case "GET":
		value, ok := m.values[args[1]]
		if !ok {
			return "$-1\r\n"
		}
		return fmt.Sprintf("$%d\r\n%s\r\n", len(value), value)
	case "SET":
		m.values[args[1]] = args[2]
		m.sets = append(m.sets, args)
		return "+OK\r\n"
	default:
		return "-ERR unknown command\r\n"
	}
}

func readRESPCommand(r *bufio.Reader) ([]string, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "*")))
	if err != nil || count < 1 {
		return nil, fmt.Errorf("bad array header %q", header)
	}

	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		sizeLine, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(sizeLine, "$")))
		if err != nil {
			return nil, fmt.Errorf("bad bulk header %q", sizeLine)
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestRedisCacheTranslatesMissingKey(t *testing.T) {
	cache := NewRedisCache(newMemoryRedisClient(t, &memoryRedis{values: map[string]string{}}))

	value, err := cache.Get(context.Background(), ownershipKey(7, 9))
	if !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
	if value != "" {
		t.Fatalf("expected empty value, got %q", value)
	}
}

func TestRedisCacheStoresOwnershipMarkerWithTTL(t *testing.T) {
	backend := &memoryRedis{values: map[string]string{}}
	cache := NewRedisCache(newMemoryRedisClient(t, backend))
	ctx := context.Background()

	if err := cache.Set(ctx, ownershipKey(7, 9), ownershipMarker, ownershipTTL); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, err := cache.Get(ctx, "child:7:9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != ownershipMarker {
		t.Fatalf("expected marker %q, got %q", ownershipMarker, value)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.sets) != 1 {
		t.Fatalf("expected one SET, got %d", len(backend.sets))
	}
	set := backend.sets[0]
	wantSeconds := strconv.Itoa(int(ownershipTTL / time.Second))
	if len(set) != 5 || !strings.EqualFold(set[3], "ex") || set[4] != wantSeconds {
		t.Fatalf("expected SET with EX %s, got %v", wantSeconds, set)
	}
}
