// Package lease implements record claims backed by redis keys.
package lease

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis claims records with SET NX PX keys of the form "<prefix>:<id>".
type Redis struct {
	client redis.UniversalClient
	prefix string
	owner  string
	ttl    time.Duration
}

// NewRedis creates a lease backend. owner identifies this worker run.
func NewRedis(client redis.UniversalClient, prefix, owner string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, owner: owner, ttl: ttl}
}

func (r *Redis) key(id int64) string {
	return r.prefix + ":" + strconv.FormatInt(id, 10)
}

// Claim takes the lease for id. It reports false when another owner holds it.
func (r *Redis) Claim(ctx context.Context, id int64) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(id), r.owner, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim: failed to set lease for image %d: %w", id, err)
	}
	if ok {
		return true, nil
	}

	// Claiming again is fine when the lease is already ours.
	holder, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim: failed to read lease for image %d: %w", id, err)
	}
	return holder == r.owner, nil
}

// Release drops the lease if this worker still owns it.
func (r *Redis) Release(ctx context.Context, id int64) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key(id)}, r.owner).Err(); err != nil {
		return fmt.Errorf("release: failed to drop lease for image %d: %w", id, err)
	}
	return nil
}

// Dial connects to redis and checks the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return client, nil
}
