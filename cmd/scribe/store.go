package main

import (
	"context"

	"github.com/go-go-golems/scribe/pkg/config"
	"github.com/go-go-golems/scribe/pkg/poststore"
	"github.com/pkg/errors"
)

func openStore(ctx context.Context, s config.StoreSettings) (poststore.Store, error) {
	switch s.Driver {
	case config.StoreMemory:
		return poststore.NewMemoryStore(), nil
	case config.StoreSQLite:
		dsn, err := poststore.SQLiteDSNForFile(s.Path)
		if err != nil {
			return nil, err
		}
		return poststore.NewSQLiteStore(dsn)
	case config.StorePostgres:
		return poststore.NewPostgresStore(ctx, s.DSN)
	default:
		return nil, errors.Errorf("unknown store driver %q", s.Driver)
	}
}
