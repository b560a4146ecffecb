package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"matricare/authz"
	"matricare/config"
	"matricare/db"
	"matricare/httpapi"
	"matricare/identity"
	"matricare/logging"
	"matricare/profile"
	"matricare/registration"
	"matricare/roster"
	"matricare/session"
)

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		os.Stderr.WriteString("bootstrap logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, role cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			redisClient = nil
		}
	}

	provider := identity.NewLocalProvider(identity.NewRepository(pool), identity.ProviderConfig{
		Secret:           cfg.JWTSecret,
		Issuer:           cfg.JWTIssuer,
		AccessTokenTTL:   cfg.AccessTokenTTL,
		RefreshTokenTTL:  cfg.RefreshTokenTTL,
		OAuthRedirectURL: cfg.OAuthRedirectURL,
	})
	profiles := profile.NewRepository(pool)
	resolver := authz.NewResolver(profiles, log)
	cache := authz.NewCache(redisClient, cfg.RoleCacheTTL)
	registrations := registration.NewService(registration.NewPGRepository(pool), provider, profiles, log)
	mothers := roster.NewService(roster.NewPGRepository(pool))

	server := httpapi.NewServer(provider, resolver, cache, profiles, registrations, mothers, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Mirror auth events into a session manager so state transitions show
	// up in the logs with the same ordering guarantees clients observe.
	events, cancelSub := provider.Subscribe()
	manager := session.NewManager(func(ctx context.Context, token string) (authz.MergedUser, error) {
		ident, err := provider.GetUser(ctx, token)
		if err != nil {
			return authz.MergedUser{}, err
		}
		return resolver.Resolve(ctx, ident)
	}, log)
	manager.Start(ctx, "", events, cancelSub)
	defer manager.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("shutdown complete")
}
