package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeUpstash implements the handful of Redis commands the checkpoint store
// sends, over the Upstash REST shapes.
type fakeUpstash struct {
	mu        sync.Mutex
	strings   map[string]string
	sets      map[string]map[string]bool
	expiries  map[string]int64
	pipelines int
	failOn    string
}

func newFakeUpstash(t *testing.T) (*fakeUpstash, *httptest.Server) {
	t.Helper()

	f := &fakeUpstash{
		strings:  map[string]string{},
		sets:     map[string]map[string]bool{},
		expiries: map[string]int64{},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("Authorization = %q, want bearer token", got)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/pipeline":
			var cmds [][]any
			if err := json.NewDecoder(r.Body).Decode(&cmds); err != nil {
				t.Errorf("decode pipeline: %v", err)
				return
			}
			f.mu.Lock()
			f.pipelines++
			replies := make([]map[string]any, 0, len(cmds))
			for _, cmd := range cmds {
				replies = append(replies, f.exec(cmd))
			}
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(replies)
		default:
			var cmd []any
			if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
				t.Errorf("decode command: %v", err)
				return
			}
			f.mu.Lock()
			reply := f.exec(cmd)
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(reply)
		}
	}))
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeUpstash) exec(cmd []any) map[string]any {
	args := make([]string, len(cmd))
	for i, a := range cmd {
		args[i] = fmt.Sprint(a)
	}
	if args[0] == f.failOn {
		return map[string]any{"error": "ERR injected"}
	}
	switch args[0] {
	case "GET":
		if v, ok := f.strings[args[1]]; ok {
			return map[string]any{"result": v}
		}
		return map[string]any{"result": nil}
	case "SET":
		f.strings[args[1]] = args[2]
		if len(args) == 5 && args[3] == "EX" {
			var secs int64
			fmt.Sscan(args[4], &secs)
			f.expiries[args[1]] = secs
		}
		return map[string]any{"result": "OK"}
	case "DEL":
		delete(f.strings, args[1])
		return map[string]any{"result": 1}
	case "SADD":
		if f.sets[args[1]] == nil {
			f.sets[args[1]] = map[string]bool{}
		}
		f.sets[args[1]][args[2]] = true
		return map[string]any{"result": 1}
	case "EXPIRE":
		var secs int64
		fmt.Sscan(args[2], &secs)
		f.expiries[args[1]] = secs
		return map[string]any{"result": 1}
	case "SMEMBERS":
		members := []string{}
		for m := range f.sets[args[1]] {
			members = append(members, m)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(members)))
		return map[string]any{"result": members}
	case "MGET":
		values := make([]any, 0, len(args)-1)
		for _, k := range args[1:] {
			if v, ok := f.strings[k]; ok {
				values = append(values, v)
			} else {
				values = append(values, nil)
			}
		}
		return map[string]any{"result": values}
	default:
		return map[string]any{"error": "ERR unknown command " + args[0]}
	}
}

func newTestCheckpoints(t *testing.T, server *httptest.Server, cfg RedisConfig) *RedisCheckpoints {
	t.Helper()

	cfg.URL = server.URL
	cfg.Token = "token"
	store, err := NewRedisCheckpoints(cfg, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewRedisCheckpoints() error = %v", err)
	}
	return store
}

func TestNewRedisCheckpointsValidatesConfig(t *testing.T) {
	t.Parallel()

	cases := []RedisConfig{
		{},
		{URL: "not a url", Token: "t"},
		{URL: "https://example.upstash.io"},
		{URL: "https://example.upstash.io", Token: "t", TTL: -time.Second},
	}
	for _, cfg := range cases {
		if _, err := NewRedisCheckpoints(cfg); err == nil {
			t.Fatalf("NewRedisCheckpoints(%+v) expected error", cfg)
		}
	}
	if (RedisConfig{}).Enabled() {
		t.Fatalf("empty config must be disabled")
	}
}

func TestRedisCheckpointsSaveAndLoad(t *testing.T) {
	t.Parallel()

	fake, server := newFakeUpstash(t)
	store := newTestCheckpoints(t, server, RedisConfig{KeyPrefix: "test:", TTL: 90 * time.Minute})

	cp := &Checkpoint{
		NegotiationID:  "neg-1",
		GroupID:        "g1",
		ConversationID: "conv-1",
		Phase:          PhaseAwaitingVendorMessage,
		Turns:          2,
	}
	if err := store.Save(context.Background(), cp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if cp.Version != 1 || cp.UpdatedAt.IsZero() {
		t.Fatalf("unexpected checkpoint after save: %+v", cp)
	}
	if fake.pipelines != 1 {
		t.Fatalf("expected one pipeline request, got %d", fake.pipelines)
	}
	if fake.expiries["test:checkpoint:neg-1"] != 5400 || fake.expiries["test:group:g1"] != 5400 {
		t.Fatalf("unexpected expiries: %v", fake.expiries)
	}
	if !fake.sets["test:group:g1"]["neg-1"] {
		t.Fatalf("negotiation missing from group index: %v", fake.sets)
	}

	got, err := store.Load(context.Background(), " neg-1 ")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.GroupID != "g1" || got.Phase != PhaseAwaitingVendorMessage || got.Turns != 2 || got.Version != 1 {
		t.Fatalf("unexpected checkpoint: %+v", got)
	}
}

func TestRedisCheckpointsSaveWithoutGroupSkipsIndex(t *testing.T) {
	t.Parallel()

	fake, server := newFakeUpstash(t)
	store := newTestCheckpoints(t, server, RedisConfig{})

	cp := &Checkpoint{NegotiationID: "solo", ConversationID: "c", Phase: PhaseIdle}
	if err := store.Save(context.Background(), cp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(fake.sets) != 0 {
		t.Fatalf("ungrouped checkpoint must not be indexed: %v", fake.sets)
	}
	if _, ok := fake.expiries["checkpoint:solo"]; ok {
		t.Fatalf("zero ttl must not set an expiry")
	}
}

func TestRedisCheckpointsSaveFailureKeepsVersion(t *testing.T) {
	t.Parallel()

	fake, server := newFakeUpstash(t)
	fake.failOn = "SADD"
	store := newTestCheckpoints(t, server, RedisConfig{})

	cp := &Checkpoint{NegotiationID: "n", GroupID: "g", ConversationID: "c", Phase: PhaseIdle, Version: 3}
	if err := store.Save(context.Background(), cp); err == nil {
		t.Fatalf("expected pipeline error")
	}
	if cp.Version != 3 {
		t.Fatalf("Version = %d, want 3 after a failed save", cp.Version)
	}
}

func TestRedisCheckpointsSaveRejectsInvalid(t *testing.T) {
	t.Parallel()

	store := &RedisCheckpoints{}
	if err := store.Save(context.Background(), nil); !errors.Is(err, ErrNilCheckpoint) {
		t.Fatalf("Save(nil) error = %v, want ErrNilCheckpoint", err)
	}
	if err := store.Save(context.Background(), &Checkpoint{Phase: PhaseIdle}); !errors.Is(err, ErrInvalidCheckpoint) {
		t.Fatalf("Save(invalid) error = %v, want ErrInvalidCheckpoint", err)
	}
	if _, err := store.Load(context.Background(), "  "); !errors.Is(err, ErrInvalidNegotiation) {
		t.Fatalf("Load(blank) error = %v, want ErrInvalidNegotiation", err)
	}
}

func TestRedisCheckpointsLoadMissing(t *testing.T) {
	t.Parallel()

	_, server := newFakeUpstash(t)
	store := newTestCheckpoints(t, server, RedisConfig{})

	if _, err := store.Load(context.Background(), "neg-3"); !errors.Is(err, ErrCheckpointNotFound) {
		t.Fatalf("Load() error = %v, want ErrCheckpointNotFound", err)
	}
}

func TestRedisCheckpointsListGroup(t *testing.T) {
	t.Parallel()

	_, server := newFakeUpstash(t)
	store := newTestCheckpoints(t, server, RedisConfig{})
	ctx := context.Background()

	for _, id := range []string{"neg-b", "neg-a", "neg-c"} {
		cp := &Checkpoint{NegotiationID: id, GroupID: "g1", ConversationID: "conv-" + id, Phase: PhaseIdle}
		if err := store.Save(ctx, cp); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}
	if err := store.Delete(ctx, "neg-c"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got, err := store.ListGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("ListGroup() error = %v", err)
	}
	if len(got) != 2 || got[0].NegotiationID != "neg-a" || got[1].NegotiationID != "neg-b" {
		t.Fatalf("unexpected group checkpoints: %+v", got)
	}

	empty, err := store.ListGroup(ctx, "other")
	if err != nil || len(empty) != 0 {
		t.Fatalf("ListGroup(other) = %v, %v", empty, err)
	}
}

func TestRedisCheckpointsErrorReply(t *testing.T) {
	t.Parallel()

	fake, server := newFakeUpstash(t)
	fake.failOn = "DEL"
	store := newTestCheckpoints(t, server, RedisConfig{})

	if err := store.Delete(context.Background(), "neg-5"); err == nil || err.Error() != "redis DEL: ERR injected" {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestExpirySecondsRoundsUp(t *testing.T) {
	t.Parallel()

	if got := expirySeconds(1500 * time.Millisecond); got != 2 {
		t.Fatalf("expirySeconds(1.5s) = %d", got)
	}
	if got := expirySeconds(time.Millisecond); got != 1 {
		t.Fatalf("expirySeconds(1ms) = %d", got)
	}
}
