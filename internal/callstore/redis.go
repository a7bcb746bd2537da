package callstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"teleconsult/internal/calls"

	"github.com/redis/go-redis/v9"
)

const (
	redisRecordPrefix = "call:rec:"
	redisIndexKey     = "call:index"

	// RedisChannel carries every record write as JSON.
	RedisChannel = "call:changes"
)

var redisCreateScript = redis.NewScript(`
-- KEYS[1] = record key
-- KEYS[2] = index set
-- ARGV[1] = record json
-- ARGV[2] = record id
-- ARGV[3] = change channel
--
-- Returns 1 if created, 0 if the id already exists.
if redis.call('SET', KEYS[1], ARGV[1], 'NX') == false then
  return 0
end
redis.call('SADD', KEYS[2], ARGV[2])
redis.call('PUBLISH', ARGV[3], ARGV[1])
return 1
`)

var redisCASScript = redis.NewScript(`
-- KEYS[1] = record key
-- ARGV[1] = expected status
-- ARGV[2] = patch json (status plus optional meetingToken, meetingLink, error)
-- ARGV[3] = updated_at (RFC3339)
-- ARGV[4] = change channel
--
-- Returns:
--  1 if applied
--  0 if the stored status differs
-- -1 if the record does not exist
local raw = redis.call('GET', KEYS[1])
if not raw then
  return -1
end
local rec = cjson.decode(raw)
if rec['status'] ~= ARGV[1] then
  return 0
end
local patch = cjson.decode(ARGV[2])
rec['status'] = patch['status']
for _, f in ipairs({'meetingToken', 'meetingLink', 'error'}) do
  if patch[f] ~= nil then
    rec[f] = patch[f]
  end
end
rec['version'] = (tonumber(rec['version']) or 0) + 1
rec['updatedAt'] = ARGV[3]
local out = cjson.encode(rec)
redis.call('SET', KEYS[1], out)
redis.call('PUBLISH', ARGV[4], out)
return 1
`)

var redisPurgeScript = redis.NewScript(`
-- KEYS[1] = index set
-- ARGV[1] = record key prefix
--
-- Single-node only: record keys are derived inside the script.
local ids = redis.call('SMEMBERS', KEYS[1])
for _, id in ipairs(ids) do
  redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return #ids
`)

// redisPatch is the wire form of calls.Patch for the CAS script.
type redisPatch struct {
	Status       calls.Status `json:"status"`
	MeetingToken *string      `json:"meetingToken,omitempty"`
	MeetingLink  *string      `json:"meetingLink,omitempty"`
	Error        *string      `json:"error,omitempty"`
}

// RedisStore keeps call records as JSON strings in Redis.
//
// Writes are Lua scripts, so the compare-and-swap and the PUBLISH of the new
// state happen atomically and in write order.
type RedisStore struct {
	rdb   *redis.Client
	hub   *hub
	log   *slog.Logger
	clock func() time.Time

	mu        sync.Mutex
	listening bool
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

func NewRedisStore(rdb *redis.Client, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{rdb: rdb, hub: newHub(), log: log, clock: time.Now}
}

func (s *RedisStore) Create(ctx context.Context, r calls.Record) (string, error) {
	if r.ID == "" {
		return "", fmt.Errorf("%w: record id required", calls.ErrInvalidArgument)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	r.Version = 1
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	res, err := redisCreateScript.Run(ctx, s.rdb, []string{redisRecordPrefix + r.ID, redisIndexKey}, string(b), r.ID, RedisChannel).Int()
	if err != nil {
		return "", calls.WriteError(err)
	}
	if res != 1 {
		return "", calls.WriteError(fmt.Errorf("record %s already exists", r.ID))
	}
	return r.ID, nil
}

func (s *RedisStore) ConditionalUpdate(ctx context.Context, id string, expected calls.Status, p calls.Patch) (bool, error) {
	b, err := json.Marshal(redisPatch{
		Status:       p.Status,
		MeetingToken: p.MeetingToken,
		MeetingLink:  p.MeetingLink,
		Error:        p.Error,
	})
	if err != nil {
		return false, err
	}
	res, err := redisCASScript.Run(ctx, s.rdb, []string{redisRecordPrefix + id},
		string(expected), string(b), s.clock().UTC().Format(time.RFC3339Nano), RedisChannel).Int()
	if err != nil {
		return false, calls.WriteError(err)
	}
	switch res {
	case 1:
		return true, nil
	case -1:
		return false, calls.ErrNotFound
	default:
		return false, nil
	}
}

func (s *RedisStore) Get(ctx context.Context, id string) (calls.Record, error) {
	raw, err := s.rdb.Get(ctx, redisRecordPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return calls.Record{}, calls.ErrNotFound
		}
		return calls.Record{}, err
	}
	return decodeRecord(raw)
}

func (s *RedisStore) List(ctx context.Context, f calls.Filter) ([]calls.Record, error) {
	var ids []string
	if f.ID != "" {
		ids = []string{f.ID}
	} else {
		var err error
		ids, err = s.rdb.SMembers(ctx, redisIndexKey).Result()
		if err != nil {
			return nil, err
		}
	}
	out := make([]calls.Record, 0)
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisRecordPrefix + id
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // deleted between SMEMBERS and MGET
		}
		r, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, f calls.Filter) (calls.Subscription, error) {
	if err := s.startListener(ctx); err != nil {
		return nil, err
	}
	sub := s.hub.subscribe(ctx, f)
	snapshot, err := s.List(ctx, f)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.seed(snapshot)
	return sub, nil
}

func (s *RedisStore) DeleteAll(ctx context.Context) (int, error) {
	n, err := redisPurgeScript.Run(ctx, s.rdb, []string{redisIndexKey}, redisRecordPrefix).Int()
	if err != nil {
		return 0, calls.WriteError(err)
	}
	return n, nil
}

// Close stops the pub/sub listener and ends every subscription.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.hub.closeAll()
	return nil
}

// startListener subscribes to the change channel once per store. It returns
// after Redis confirms the subscription so snapshots never miss a write.
func (s *RedisStore) startListener(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening {
		return nil
	}

	lctx, cancel := context.WithCancel(context.Background())
	ps := s.rdb.Subscribe(lctx, RedisChannel)
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return calls.WriteError(fmt.Errorf("subscribe %s: %w", RedisChannel, err))
	}
	s.listening = true
	s.stop = func() {
		cancel()
		_ = ps.Close() // unblocks Receive
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var st feedState
		backoff := 250 * time.Millisecond
		for {
			msg, err := ps.Receive(lctx)
			if lctx.Err() != nil {
				return
			}
			s.handleFeed(&st, msg, err)
			if err == nil {
				backoff = 250 * time.Millisecond
				continue
			}
			// go-redis redials and resubscribes on the next Receive.
			select {
			case <-lctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 10*time.Second {
				backoff *= 2
			}
		}
	}()
	return nil
}

// feedState tracks whether the pub/sub connection dropped since the last
// confirmed subscription.
type feedState struct {
	broken bool
}

// handleFeed processes one pub/sub receive. A receive error means messages
// may have been lost, as may anything published before the resubscription is
// confirmed, so subscriptions are ended on both edges.
func (s *RedisStore) handleFeed(st *feedState, msg any, err error) {
	if err != nil {
		if !st.broken {
			s.log.Warn("call change feed interrupted", "err", err)
		}
		st.broken = true
		s.hub.closeAll()
		return
	}
	switch m := msg.(type) {
	case *redis.Message:
		r, err := decodeRecord(m.Payload)
		if err != nil {
			s.log.Warn("call change feed payload invalid", "err", err)
			return
		}
		s.hub.publish(r)
	case *redis.Subscription:
		if m.Kind == "subscribe" && st.broken {
			st.broken = false
			s.log.Info("call change feed resubscribed")
			s.hub.closeAll()
		}
	}
}

func decodeRecord(raw string) (calls.Record, error) {
	var r calls.Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return calls.Record{}, fmt.Errorf("decode call record: %w", err)
	}
	return r, nil
}
