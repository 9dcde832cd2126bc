// Command authcore-loadtest measures the hot paths of the engine: access
// token verification, refresh rotation and scoped authorization.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/memstore"
	"github.com/MrEthical07/authcore/permission"
)

type sessionState struct {
	mu   sync.Mutex
	user string
	pair *authcore.TokenPair
}

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase")
		servers     = flag.Int("servers", 16, "number of servers users are members of")
		cache       = flag.Bool("cache", true, "enable the resolved-permission cache")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 || *servers <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, ops and servers must be > 0")
		os.Exit(2)
	}

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	if err := run(context.Background(), client, *sessions, *concurrency, *ops, *servers, *cache); err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, client redis.UniversalClient, sessions, concurrency, ops, servers int, cache bool) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.RateLimit.Enabled = false
	cfg.Permission.CacheEnabled = cache

	perms := memstore.NewPermissions()
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(memstore.NewUsers()).
		WithPermissionSource(perms).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	states := make([]sessionState, sessions)
	fmt.Printf("seeding %d sessions...\n", sessions)
	startSeed := time.Now()
	for i := range states {
		user := fmt.Sprintf("user-%d", i)
		pair, err := engine.IssuePair(ctx, user, authcore.SessionContext{UserAgent: "authcore-loadtest"})
		if err != nil {
			return fmt.Errorf("issue pair: %w", err)
		}
		states[i].user = user
		states[i].pair = pair
		for s := 0; s < servers; s++ {
			perms.Set(serverID(s), "general", user, seedSnapshot(user, s))
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runPhase(ops, concurrency, func(r *mrand.Rand, _ int) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		token := st.pair.AccessToken
		st.mu.Unlock()
		_, err := engine.VerifyAccess(ctx, token)
		return err
	})

	refreshStats := runPhase(ops, concurrency, func(r *mrand.Rand, _ int) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		next, err := engine.Refresh(ctx, st.pair.RefreshToken)
		if err != nil {
			return err
		}
		st.pair = next
		return nil
	})

	required := permission.Of(permission.ViewChannel, permission.SendMessages)
	authorizeStats := runPhase(ops, concurrency, func(r *mrand.Rand, _ int) error {
		st := &states[r.Intn(len(states))]
		id := authcore.Identity{UserID: st.user}
		rc := authcore.ResourceContext{ServerID: serverID(r.Intn(servers)), ChannelID: "general"}
		_, err := engine.AuthorizeIdentity(ctx, id, required, rc)
		return err
	})

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("refresh", refreshStats)
	printStats("authorize", authorizeStats)
	return nil
}

func serverID(i int) string {
	return fmt.Sprintf("srv-%d", i)
}

// seedSnapshot gives every user the everyone role plus one moderator role,
// with a channel overwrite pair that nets out to SEND allowed.
func seedSnapshot(user string, server int) authcore.PermissionSnapshot {
	everyone := permission.Role{ID: "everyone", Permissions: permission.Of(permission.ViewChannel, permission.SendMessages), IsEveryone: true}
	return authcore.PermissionSnapshot{
		OwnerID:  fmt.Sprintf("owner-%d", server),
		IsMember: true,
		Everyone: &everyone,
		Roles: []permission.Role{
			{ID: "moderator", Permissions: permission.Of(permission.ManageMessages), Position: 1},
		},
		Overwrites: []permission.Overwrite{
			{Kind: permission.TargetRole, TargetID: "everyone", Deny: permission.Of(permission.SendMessages)},
			{Kind: permission.TargetUser, TargetID: user, Allow: permission.Of(permission.SendMessages)},
		},
	}
}
