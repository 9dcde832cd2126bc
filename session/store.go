package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every transport-level Redis failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// ErrSessionCorrupt is returned when a session hash is missing required fields.
var ErrSessionCorrupt = errors.New("session corrupt")

// ErrShardedRedis is returned by CheckClient for Cluster and Ring clients.
var ErrShardedRedis = errors.New("session store requires a single Redis keyspace")

const (
	fieldUserID      = "uid"
	fieldFingerprint = "fp"
	fieldIP          = "ip"
	fieldUserAgent   = "ua"
	fieldVersion     = "ver"
	fieldRememberMe  = "rm"
	fieldCreatedAt   = "created"
	fieldExpiresAt   = "exp"
	fieldLastActive  = "last"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusReuse    int64 = 2
	rotateStatusRotated  int64 = 3
)

// KEYS[1] session hash. ARGV: index prefix, sid, presented version, now (ms).
// Versions are compared as decimal strings to avoid Lua float precision.
const rotateScript = `
local uid = redis.call("HGET", KEYS[1], "uid")
if not uid then
  return {0, "0", ""}
end
local index_key = ARGV[1] .. uid
local current = redis.call("HGET", KEYS[1], "ver") or "0"

local exp = tonumber(redis.call("HGET", KEYS[1], "exp") or "0")
if exp > 0 and exp <= tonumber(ARGV[4]) then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", index_key, ARGV[2])
  return {1, current, uid}
end

if current ~= ARGV[3] then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", index_key, ARGV[2])
  return {2, current, uid}
end

local next = redis.call("HINCRBY", KEYS[1], "ver", 1)
redis.call("HSET", KEYS[1], "last", ARGV[4])
return {3, tostring(next), uid}
`

// KEYS[1] session hash. ARGV: now (ms).
const touchScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "last", ARGV[1])
return 1
`

// KEYS[1] session hash. ARGV: index prefix, sid.
const invalidateScript = `
local uid = redis.call("HGET", KEYS[1], "uid")
local existed = redis.call("DEL", KEYS[1])
if uid then
  redis.call("SREM", ARGV[1] .. uid, ARGV[2])
end
return existed
`

// KEYS[1] user index. ARGV: session prefix.
const invalidateAllScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, id in ipairs(ids) do
  removed = removed + redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return removed
`

var (
	rotateLua        = redis.NewScript(rotateScript)
	touchLua         = redis.NewScript(touchScript)
	invalidateLua    = redis.NewScript(invalidateScript)
	invalidateAllLua = redis.NewScript(invalidateAllScript)
)

// CheckClient rejects clients that shard keys across nodes. The rotate and
// invalidate scripts derive the user index key from the session hash, so
// every key must live in one keyspace: a standalone node, or a Sentinel
// failover group.
func CheckClient(rdb redis.UniversalClient) error {
	switch rdb.(type) {
	case *redis.ClusterClient, *redis.Ring:
		return ErrShardedRedis
	}
	return nil
}

// Store is the Redis-backed session registry.
type Store struct {
	redis    redis.UniversalClient
	prefix   string
	indexTTL time.Duration
}

// NewStore creates a session [Store]. prefix namespaces every key; indexTTL
// bounds how long a user's session index survives without new logins and
// should be at least the longest refresh lifetime.
func NewStore(rdb redis.UniversalClient, prefix string, indexTTL time.Duration) *Store {
	if prefix == "" {
		prefix = "as"
	}
	return &Store{
		redis:    rdb,
		prefix:   prefix,
		indexTTL: indexTTL,
	}
}

// Key returns the Redis key of the session hash. Callers use it to batch
// existence checks into their own pipelines.
func (s *Store) Key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) sessionPrefix() string {
	return s.prefix + ":"
}

func (s *Store) indexPrefix() string {
	return s.prefix + "u:"
}

func (s *Store) userKey(userID string) string {
	return s.indexPrefix() + userID
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

// Create persists a new session and indexes it under its user. The hash
// expires with the session.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" || sess.UserID == "" {
		return ErrSessionCorrupt
	}
	if sess.RefreshVersion == 0 {
		sess.RefreshVersion = 1
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: session already expired", ErrSessionCorrupt)
	}
	indexTTL := s.indexTTL
	if indexTTL < ttl {
		indexTTL = ttl
	}

	rm := "0"
	if sess.RememberMe {
		rm = "1"
	}
	key := s.Key(sess.ID)
	userKey := s.userKey(sess.UserID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldUserID, sess.UserID,
			fieldFingerprint, sess.DeviceFingerprint,
			fieldIP, sess.IP,
			fieldUserAgent, sess.UserAgent,
			fieldVersion, strconv.FormatUint(sess.RefreshVersion, 10),
			fieldRememberMe, rm,
			fieldCreatedAt, millis(sess.CreatedAt),
			fieldExpiresAt, millis(sess.ExpiresAt),
			fieldLastActive, millis(sess.LastActivity),
		)
		pipe.PExpireAt(ctx, key, sess.ExpiresAt)
		pipe.SAdd(ctx, userKey, sess.ID)
		pipe.PExpire(ctx, userKey, indexTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a session. Missing or expired sessions return [ErrNotFound].
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.Key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	sess, err := decodeFields(sessionID, fields)
	if err != nil {
		return nil, err
	}
	if sess.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return sess, nil
}

func decodeFields(sessionID string, fields map[string]string) (*Session, error) {
	uid := fields[fieldUserID]
	if uid == "" {
		return nil, ErrSessionCorrupt
	}
	ver, err := strconv.ParseUint(fields[fieldVersion], 10, 64)
	if err != nil {
		return nil, ErrSessionCorrupt
	}
	return &Session{
		ID:                sessionID,
		UserID:            uid,
		DeviceFingerprint: fields[fieldFingerprint],
		IP:                fields[fieldIP],
		UserAgent:         fields[fieldUserAgent],
		RefreshVersion:    ver,
		RememberMe:        fields[fieldRememberMe] == "1",
		CreatedAt:         fromMillis(fields[fieldCreatedAt]),
		ExpiresAt:         fromMillis(fields[fieldExpiresAt]),
		LastActivity:      fromMillis(fields[fieldLastActive]),
	}, nil
}

// Rotate compares presented with the stored refresh version. On a match the
// version is incremented and last activity touched. On any mismatch the
// session is deleted and [RotateReuse] returned. The whole exchange is one
// Lua script, so of two concurrent rotations at the same version exactly
// one succeeds.
func (s *Store) Rotate(ctx context.Context, sessionID string, presented uint64) (RotateResult, error) {
	res, err := rotateLua.Run(ctx, s.redis,
		[]string{s.Key(sessionID)},
		s.indexPrefix(),
		sessionID,
		strconv.FormatUint(presented, 10),
		time.Now().UnixMilli(),
	).Slice()
	if err != nil {
		return RotateResult{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return RotateResult{}, fmt.Errorf("%w: unexpected rotate reply", ErrRedisUnavailable)
	}

	status, ok := res[0].(int64)
	if !ok {
		return RotateResult{}, fmt.Errorf("%w: unexpected rotate status", ErrRedisUnavailable)
	}
	verStr, _ := res[1].(string)
	uid, _ := res[2].(string)
	ver, _ := strconv.ParseUint(verStr, 10, 64)

	out := RotateResult{Version: ver, UserID: uid}
	switch status {
	case rotateStatusNotFound:
		out.Status = RotateNotFound
	case rotateStatusExpired:
		out.Status = RotateExpired
	case rotateStatusReuse:
		out.Status = RotateReuse
	case rotateStatusRotated:
		out.Status = RotateOK
	default:
		return RotateResult{}, fmt.Errorf("%w: unknown rotate status %d", ErrRedisUnavailable, status)
	}
	return out, nil
}

// Touch records activity on a live session. It returns [ErrNotFound] when
// the session is gone.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	n, err := touchLua.Run(ctx, s.redis, []string{s.Key(sessionID)}, time.Now().UnixMilli()).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists reports whether the session hash is present.
func (s *Store) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.Key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// Invalidate deletes one session. It is idempotent and reports whether a
// session was actually removed.
func (s *Store) Invalidate(ctx context.Context, sessionID string) (bool, error) {
	n, err := invalidateLua.Run(ctx, s.redis, []string{s.Key(sessionID)}, s.indexPrefix(), sessionID).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// InvalidateAll deletes every indexed session of a user in one script and
// returns how many existed. Calling it again returns 0.
func (s *Store) InvalidateAll(ctx context.Context, userID string) (int, error) {
	n, err := invalidateAllLua.Run(ctx, s.redis, []string{s.userKey(userID)}, s.sessionPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

// List returns the live sessions of a user, pruning index entries whose
// hash has expired.
func (s *Store) List(ctx context.Context, userID string) ([]*Session, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.Key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := time.Now()
	out := make([]*Session, 0, len(ids))
	stale := make([]interface{}, 0)
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		sess, err := decodeFields(ids[i], fields)
		if err != nil || sess.UserID != userID || sess.Expired(now) {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, sess)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return out, nil
}

// Count returns the number of indexed session IDs for a user. The index
// may briefly include expired sessions until the next List.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	n, err := s.redis.SCard(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

// Ping measures a Redis round trip.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
