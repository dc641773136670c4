package storage

import (
	"context"
	"fmt"
	"log"

	"subtitle-orchestrator/pkg/config"
)

// Open constructs the ObjectStore selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case "memory":
		log.Println("Storage: using in-memory object store (single process only)")
		return NewMemoryStore(), nil

	case "badger":
		log.Printf("Storage: opening badger object store at %s", cfg.Path)
		return NewDiskStore(cfg.Path)

	case "postgres":
		log.Println("Storage: running postgres migrations")
		if err := RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		pool, err := OpenPostgres(ctx, cfg.DatabaseURL, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		log.Println("Storage: connected to postgres object store")
		return NewPostgresStore(pool), nil

	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
