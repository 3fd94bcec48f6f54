package cli

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/ticket-mint-reconciler/internal/config"
	"github.com/iliyamo/ticket-mint-reconciler/internal/database"
	"github.com/iliyamo/ticket-mint-reconciler/internal/issuer"
	"github.com/iliyamo/ticket-mint-reconciler/internal/pipeline"
	"github.com/iliyamo/ticket-mint-reconciler/internal/reconciler"
	"github.com/iliyamo/ticket-mint-reconciler/internal/rights"
	"github.com/iliyamo/ticket-mint-reconciler/internal/signer"
	"github.com/iliyamo/ticket-mint-reconciler/internal/store"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg       config.Config
	db        *sql.DB
	rdb       *redis.Client
	store     *store.Store
	committer *store.Committer
	gate      *rights.Gate
}

func openDB(cfg config.Config) (*sql.DB, error) {
	if cfg.DBDriver == "sqlite3" {
		return database.OpenSQLite(cfg.DBPath)
	}
	return database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

func newApp(cfg config.Config) (*app, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	rc := rights.DefaultConfig()
	if cfg.RightsConfig != "" {
		if rc, err = rights.LoadConfig(cfg.RightsConfig); err != nil {
			db.Close()
			return nil, err
		}
	}
	st := store.New(db)
	return &app{
		cfg:       cfg,
		db:        db,
		rdb:       config.NewRedisClient(),
		store:     st,
		committer: store.NewCommitter(db),
		gate:      rights.NewGate(st, rc),
	}, nil
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	_ = a.db.Close()
}

// coordination returns the locker and journal.  Without Redis the worker
// falls back to in-process ones, which only protect a single instance and
// forget compensations on restart.
func (a *app) coordination() (pipeline.Locker, pipeline.Journal, error) {
	if a.rdb == nil {
		log.Printf("reconciler: redis unavailable, using in-process locks and journal")
		return pipeline.NewLocalLocker(), pipeline.NewMemoryJournal(), nil
	}
	j, err := pipeline.NewRedisJournal(a.rdb, a.cfg.RedisPrefix+"journal:", a.cfg.JournalTTL)
	if err != nil {
		return nil, nil, err
	}
	return pipeline.NewRedisLocker(a.rdb, a.cfg.RedisPrefix+"lock:", a.cfg.LockTTL), j, nil
}

func (a *app) driver(n pipeline.Notifier) (*pipeline.Driver, error) {
	locker, journal, err := a.coordination()
	if err != nil {
		return nil, err
	}
	return pipeline.NewDriver(reconciler.New(a.store), a.committer, journal, locker, n), nil
}

func (a *app) issuer() (*issuer.Issuer, error) {
	if err := a.cfg.RequireSigner(); err != nil {
		return nil, err
	}
	kr := signer.NewKeyring()
	n, err := kr.LoadDir(a.cfg.SignerKeysDir)
	if err != nil {
		return nil, fmt.Errorf("load signer keys: %w", err)
	}
	log.Printf("reconciler: loaded %d controller keys from %s", n, a.cfg.SignerKeysDir)
	currencies, err := issuer.ParseCurrencies(a.cfg.Currencies)
	if err != nil {
		return nil, fmt.Errorf("parse CURRENCIES: %w", err)
	}
	return issuer.New(a.store, a.committer, kr, currencies, a.gate, issuer.Options{SkewWindow: a.cfg.SkewWindow}), nil
}
