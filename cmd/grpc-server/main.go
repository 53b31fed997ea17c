package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"mangasync/internal/aggregate"
	"mangasync/internal/grpcserver"
	"mangasync/internal/ingest"
	"mangasync/internal/progress"
	"mangasync/internal/resume"
	"mangasync/internal/series"
	synchub "mangasync/internal/sync"
	"mangasync/pkg/database"
	"mangasync/pkg/utils"
)

func main() {
	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	dbCfg := database.DefaultConfig().WithOverrides(cfg.DB.Driver, cfg.DB.Path, cfg.DB.DSN)
	if err := database.EnsureDataDir(dbCfg); err != nil {
		log.Fatalf("data dir: %v", err)
	}
	db := database.MustOpen(dbCfg)
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seriesRepo := series.NewRepo(db)
	progressRepo := progress.NewRepo(db)
	hub := synchub.NewHub(nil)

	gate := ingest.NewGate(seriesRepo, progressRepo, hub, policyFrom(cfg.Ingest), nil)
	if cfg.File != "" {
		err := utils.WatchPolicy(ctx, cfg.File, func(p utils.PolicyConfig) {
			gate.SetPolicy(policyFrom(p))
		}, nil)
		if err != nil {
			log.Printf("[config] not watching %s: %v", cfg.File, err)
		}
	}

	svc := grpcserver.NewServer(gate, aggregate.NewService(progressRepo, nil), resume.NewRepo(db), seriesRepo, hub)

	grpcServer := grpc.NewServer()
	grpcserver.RegisterProgressServiceServer(grpcServer, svc)

	go func() {
		<-ctx.Done()
		log.Println("shutting down gRPC server")
		grpcServer.GracefulStop()
	}()

	log.Printf("gRPC server listening on %s (db %s)", cfg.GRPCAddr, dbCfg.Describe())
	if err := grpcServer.Serve(listener); err != nil {
		log.Fatalf("grpc server stopped: %v", err)
	}
}

func policyFrom(p utils.PolicyConfig) ingest.Policy {
	return ingest.Policy{RetrogradeTolerance: p.RetrogradeTolerance, MinSyncInterval: p.MinSyncInterval}
}
