package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/modoria-backend/pkg/config"
	"github.com/angelmondragon/modoria-backend/pkg/db"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/migrate"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "seed"})

	_ = godotenv.Load()

	file := flag.String("file", "", "fixtures yaml (defaults to the embedded catalog)")
	tokens := flag.Bool("tokens", true, "print dev customer and admin tokens")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	if cfg.App.IsProd() {
		logg.Error(ctx, "refusing to seed", fmt.Errorf("seed is disabled in %s", cfg.App.Env))
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "seed",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	data, err := loadFixtures(*file)
	requireResource(ctx, logg, "fixtures", err)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	result, err := applySeed(ctx, dbClient, data)
	requireResource(ctx, logg, "seed", err)

	logg.Info(logg.WithFields(ctx, map[string]any{
		"products": result.Products,
		"variants": result.Variants,
		"coupons":  result.Coupons,
	}), "seed applied")

	if !*tokens {
		return
	}
	minted, err := mintDevTokens(cfg.JWT, time.Now().UTC())
	requireResource(ctx, logg, "dev tokens", err)
	for _, token := range minted {
		fmt.Printf("%s\t%s\t%s\n", token.Role, token.UserID, token.Token)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
