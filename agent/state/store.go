package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrNilCheckpoint      = errors.New("checkpoint is nil")
	ErrInvalidNegotiation = errors.New("negotiation id is empty")
)

const maxReplyBytes = 2 << 20

// CheckpointStore persists session checkpoints keyed by negotiation id.
type CheckpointStore interface {
	Load(ctx context.Context, negotiationID string) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	Delete(ctx context.Context, negotiationID string) error
}

// RedisConfig is loaded with the UPSTASH prefix. An empty URL disables
// checkpoints.
type RedisConfig struct {
	URL       string        `envconfig:"URL"`
	Token     string        `envconfig:"TOKEN"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"10s"`
	KeyPrefix string        `envconfig:"KEY_PREFIX" split_words:"true" default:"negotiation:"`
	TTL       time.Duration `envconfig:"TTL" default:"168h"`
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

// RedisCheckpoints keeps checkpoints in Upstash Redis over its REST API.
// Every grouped checkpoint is also indexed in a per-group set so a whole
// group can be resumed.
//
//	<prefix>checkpoint:<negotiation id>  JSON checkpoint
//	<prefix>group:<group id>             set of negotiation ids
type RedisCheckpoints struct {
	endpoint string
	token    string
	prefix   string
	ttl      time.Duration
	client   *http.Client
}

var _ CheckpointStore = (*RedisCheckpoints)(nil)

type RedisOption func(*RedisCheckpoints)

func WithHTTPClient(client *http.Client) RedisOption {
	return func(r *RedisCheckpoints) {
		if client != nil {
			r.client = client
		}
	}
}

func NewRedisCheckpoints(cfg RedisConfig, opts ...RedisOption) (*RedisCheckpoints, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if endpoint == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid upstash redis url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}
	if cfg.TTL < 0 {
		return nil, errors.New("checkpoint ttl must be >= 0")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r := &RedisCheckpoints{
		endpoint: endpoint,
		token:    token,
		prefix:   strings.TrimSpace(cfg.KeyPrefix),
		ttl:      cfg.TTL,
		client:   &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

func (r *RedisCheckpoints) checkpointKey(negotiationID string) (string, error) {
	negotiationID = strings.TrimSpace(negotiationID)
	if negotiationID == "" {
		return "", ErrInvalidNegotiation
	}
	return r.prefix + "checkpoint:" + negotiationID, nil
}

func (r *RedisCheckpoints) groupKey(groupID string) string {
	return r.prefix + "group:" + strings.TrimSpace(groupID)
}

func (r *RedisCheckpoints) Load(ctx context.Context, negotiationID string) (*Checkpoint, error) {
	key, err := r.checkpointKey(negotiationID)
	if err != nil {
		return nil, err
	}
	reply, err := r.command(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	cp, err := decodeCheckpoint(reply)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrCheckpointNotFound
	}
	return cp, nil
}

// Save bumps the checkpoint version and writes it together with its group
// index entry in one pipeline.
func (r *RedisCheckpoints) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil {
		return ErrNilCheckpoint
	}
	if err := cp.Validate(); err != nil {
		return err
	}
	key, err := r.checkpointKey(cp.NegotiationID)
	if err != nil {
		return err
	}

	cp.Version++
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	cp.UpdatedAt = cp.UpdatedAt.UTC()

	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	set := []any{"SET", key, string(payload)}
	if r.ttl > 0 {
		set = append(set, "EX", expirySeconds(r.ttl))
	}
	cmds := [][]any{set}
	if group := strings.TrimSpace(cp.GroupID); group != "" {
		cmds = append(cmds, []any{"SADD", r.groupKey(group), cp.NegotiationID})
		if r.ttl > 0 {
			cmds = append(cmds, []any{"EXPIRE", r.groupKey(group), expirySeconds(r.ttl)})
		}
	}

	if _, err := r.pipeline(ctx, cmds); err != nil {
		cp.Version--
		return err
	}
	return nil
}

// Delete removes the checkpoint. The group index keeps the id; ListGroup
// skips members whose checkpoint is gone.
func (r *RedisCheckpoints) Delete(ctx context.Context, negotiationID string) error {
	key, err := r.checkpointKey(negotiationID)
	if err != nil {
		return err
	}
	_, err = r.command(ctx, "DEL", key)
	return err
}

// ListGroup returns the live checkpoints of a group ordered by negotiation id.
func (r *RedisCheckpoints) ListGroup(ctx context.Context, groupID string) ([]*Checkpoint, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, errors.New("group id is empty")
	}
	reply, err := r.command(ctx, "SMEMBERS", r.groupKey(groupID))
	if err != nil {
		return nil, err
	}
	var members []string
	if err := json.Unmarshal(reply, &members); err != nil {
		return nil, fmt.Errorf("decode group members: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	sort.Strings(members)

	args := make([]any, 0, len(members)+1)
	args = append(args, "MGET")
	for _, id := range members {
		key, err := r.checkpointKey(id)
		if err != nil {
			continue
		}
		args = append(args, key)
	}
	reply, err = r.command(ctx, args...)
	if err != nil {
		return nil, err
	}
	var values []json.RawMessage
	if err := json.Unmarshal(reply, &values); err != nil {
		return nil, fmt.Errorf("decode group checkpoints: %w", err)
	}

	out := make([]*Checkpoint, 0, len(values))
	for _, v := range values {
		cp, err := decodeCheckpoint(v)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			out = append(out, cp)
		}
	}
	return out, nil
}

// decodeCheckpoint returns nil for a missing key.
func decodeCheckpoint(raw json.RawMessage) (*Checkpoint, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var payload string
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode checkpoint payload: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("stored checkpoint: %w", err)
	}
	return &cp, nil
}

/* -------------------------------- REST API ------------------------------- */

type restReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (r *RedisCheckpoints) command(ctx context.Context, args ...any) (json.RawMessage, error) {
	var reply restReply
	if err := r.post(ctx, r.endpoint, args, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("redis %v: %s", args[0], reply.Error)
	}
	return reply.Result, nil
}

// pipeline sends cmds in one request. The first command error fails the call.
func (r *RedisCheckpoints) pipeline(ctx context.Context, cmds [][]any) ([]json.RawMessage, error) {
	var replies []restReply
	if err := r.post(ctx, r.endpoint+"/pipeline", cmds, &replies); err != nil {
		return nil, err
	}
	if len(replies) != len(cmds) {
		return nil, fmt.Errorf("redis pipeline: %d replies for %d commands", len(replies), len(cmds))
	}
	results := make([]json.RawMessage, len(replies))
	for i, reply := range replies {
		if reply.Error != "" {
			return nil, fmt.Errorf("redis %v: %s", cmds[i][0], reply.Error)
		}
		results[i] = reply.Result
	}
	return results, nil
}

func (r *RedisCheckpoints) post(ctx context.Context, endpoint string, body, dst any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal redis request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return fmt.Errorf("read redis response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode redis response: %w", err)
	}
	return nil
}

// expirySeconds rounds up so a sub-second ttl still expires.
func expirySeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
