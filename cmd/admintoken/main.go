package main

import (
	"flag"
	"fmt"

	"tradecore/internal/adapters/config"
	"tradecore/pkg/auth"
	"tradecore/pkg/logger"
)

func main() {
	operator := flag.String("operator", "", "Operator name recorded in the token")
	write := flag.Bool("write", false, "Grant admin:write (kill switch reset)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	defer func() { _ = logger.Sync() }()

	if !cfg.Admin.Enabled() {
		log.Fatal("ADMIN_JWT_SECRET is not set")
	}
	if *operator == "" {
		log.Fatal("-operator is required")
	}

	scope := auth.ScopeRead
	if *write {
		scope = auth.ScopeWrite
	}

	svc := auth.NewJWTService(cfg.Admin.JWTSecret, cfg.Admin.Issuer, cfg.Admin.TokenTTL)
	token, err := svc.GenerateToken(*operator, scope)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	log.Infow("Issued admin token", "operator", *operator, "scope", scope, "ttl", cfg.Admin.TokenTTL)
	fmt.Println(token)
}
