package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"mangasync/internal/backup"
	"mangasync/pkg/database"
	"mangasync/pkg/utils"
)

func main() {
	var (
		seriesOut   = flag.String("series", "data/series.csv", "output CSV path for series")
		progressOut = flag.String("progress", "data/reading_progress.csv", "output CSV path for reading progress")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	db := database.MustOpen(database.DefaultConfig().WithOverrides(cfg.DB.Driver, cfg.DB.Path, cfg.DB.DSN))
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	sf, err := create(*seriesOut)
	if err != nil {
		log.Fatalf("open %s: %v", *seriesOut, err)
	}
	defer sf.Close()
	pf, err := create(*progressOut)
	if err != nil {
		log.Fatalf("open %s: %v", *progressOut, err)
	}
	defer pf.Close()

	c, err := backup.Export(ctx, db, sf, pf)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}

	log.Printf("exported %d series to %s and %d progress rows to %s", c.Series, *seriesOut, c.Progress, *progressOut)
}

func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}
