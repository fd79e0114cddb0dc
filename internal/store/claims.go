package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// leaseScript grants or renews a lease: the holder extends its own key, anyone else only
// gets it once the key expired.
var leaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  return 1
end
return 0
`)

// delIfScript deletes a key only while it holds the expected value.
var delIfScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// AcquireLease takes or renews the named lease for holder. It returns false while another
// holder owns it.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	n, err := leaseScript.Run(ctx, s.rdb, []string{keyLease(name)}, holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseLease gives the lease up if holder still owns it.
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	return delIfScript.Run(ctx, s.rdb, []string{keyLease(name)}, holder).Err()
}

// ClaimBotTurn grants one caller the bot's turn that follows the given number of user
// lines in a round. Later callers get false until the claim expires.
func (s *Store) ClaimBotTurn(ctx context.Context, gameID string, round, userMessages int, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, keyBotTurn(gameID, round, userMessages), s.now().Unix(), ttl).Result()
}

// ReleaseBotTurn drops a claim whose turn could not be played.
func (s *Store) ReleaseBotTurn(ctx context.Context, gameID string, round, userMessages int) error {
	return s.rdb.Del(ctx, keyBotTurn(gameID, round, userMessages)).Err()
}
