// Package dbmanager implements the DatabaseManager: the top-level object
// a server process owns. It multiplexes many independently-stored
// databases, each with its own page file, buffer pool, catalog, WAL and
// transaction manager, and routes every statement either to the database
// it names or to the current database of the session that sent it.
//
// Grounded on tinySQL's storage.DB (a mutex-guarded map of tenant
// catalogs opened against a shared MVCCManager), generalized from
// in-memory tenants sharing one address space to independently-paged
// on-disk databases, each with the full storage stack internal/executor
// needs. CreateDatabase/DropDatabase and Execute's USE DATABASE handling mirror the shape of the
// teacher's tenant lifecycle calls one level up, at the database rather
// than the tenant-table granularity.
package dbmanager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/qindb/qindb/internal/auth"
	"github.com/qindb/qindb/internal/catalog"
	"github.com/qindb/qindb/internal/config"
	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/executor"
	"github.com/qindb/qindb/internal/scheduler"
	"github.com/qindb/qindb/internal/sql/ast"
	"github.com/qindb/qindb/internal/storage/buffer"
	"github.com/qindb/qindb/internal/storage/disk"
	"github.com/qindb/qindb/internal/storage/wal"
	"github.com/qindb/qindb/internal/txn"
)

// SystemDatabase is the database always present, holding the
// administrator account seeded at first boot.
const SystemDatabase = "qindb"

// bootstrapAdminUser/Password are the credentials SeedAdmin installs the
// first time SystemDatabase is created.
const (
	bootstrapAdminUser     = "admin"
	bootstrapAdminPassword = "admin"
)

const (
	dataFileName    = "data.db"
	catalogFileName = "catalog.json"
	walFileName     = "wal.log"
)

// database bundles one open database's entire storage stack, owned
// exclusively by the Manager that opened it. Nothing outside this file
// holds a reference to the pieces individually.
type database struct {
	name string

	disk   *disk.Manager
	pool   *buffer.Pool
	wal    *wal.WAL
	txns   *txn.Manager
	cat    *catalog.Catalog
	engine *executor.Engine
}

// Checkpoint implements scheduler.Target: flush every dirty page,
// persist the catalog, record the new checkpoint watermark, and
// truncate the WAL now that everything it covers is durable on the page
// file. wal_in_db is persisted as a header bit for format compatibility
// (see internal/storage/disk), but no WAL-in-page backend exists yet, so
// the log always lives in the external file regardless of that flag.
func (d *database) Checkpoint(ctx context.Context) error {
	if err := d.pool.FlushAll(); err != nil {
		return err
	}
	if err := d.cat.Save(); err != nil {
		return err
	}
	if err := d.disk.Flush(); err != nil {
		return err
	}
	lsn := d.wal.NextLSN() - 1
	if err := d.disk.SetCheckpointLSN(lsn); err != nil {
		return err
	}
	return d.wal.Truncate()
}

// Vacuum implements scheduler.Target by compacting every user table.
func (d *database) Vacuum(ctx context.Context) error {
	_, err := d.engine.Execute(ctx, nil, executor.Session{IsAdmin: true}, &ast.VacuumStatement{})
	return err
}

func (d *database) Name() string { return d.name }

// close checkpoints d so its WAL starts empty on next open, then releases
// its file handles.
func (d *database) close(ctx context.Context) error {
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	record(d.Checkpoint(ctx))
	record(d.wal.Close())
	record(d.disk.Close())
	return first
}

// Manager is the DatabaseManager. One Manager serves a process; it owns
// every open database directory beneath cfg.DataDir.
type Manager struct {
	cfg config.Config

	mu  sync.RWMutex
	dbs map[string]*database
}

// New constructs a Manager over cfg's data directory, creating it if it
// doesn't exist, and ensures the system database (with its bootstrap
// admin account) exists and is open.
func New(cfg config.Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, dberr.Wrap(dberr.IOError, err, "create data directory")
	}
	m := &Manager{cfg: cfg, dbs: make(map[string]*database)}

	exists, err := m.DatabaseExists(SystemDatabase)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := m.CreateDatabase(SystemDatabase, true); err != nil {
			return nil, err
		}
	}
	sys, err := m.open(SystemDatabase)
	if err != nil {
		return nil, err
	}
	if err := sys.engine.SeedAdmin(bootstrapAdminUser, bootstrapAdminPassword); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) dbDir(name string) string {
	return filepath.Join(m.cfg.DataDir, name)
}

// DatabaseExists reports whether name has a directory on disk, open or
// not.
func (m *Manager) DatabaseExists(name string) (bool, error) {
	_, err := os.Stat(m.dbDir(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, dberr.Wrap(dberr.IOError, err, "stat database directory")
}

// ListDatabases returns every database directory under DataDir, in
// filesystem order.
func (m *Manager) ListDatabases() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.DataDir)
	if err != nil {
		return nil, dberr.Wrap(dberr.IOError, err, "list data directory")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// CreateDatabase lays down a new database directory with a fresh page
// file, WAL and catalog. If ifNotExists and the database already exists,
// this is a silent no-op.
func (m *Manager) CreateDatabase(name string, ifNotExists bool) error {
	exists, err := m.DatabaseExists(name)
	if err != nil {
		return err
	}
	if exists {
		if ifNotExists {
			return nil
		}
		return dberr.Newf(dberr.SemanticError, "database %q already exists", name)
	}
	dir := m.dbDir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return dberr.Wrap(dberr.IOError, err, "create database directory")
	}

	dm, err := disk.Open(disk.Config{
		Path:        filepath.Join(dir, dataFileName),
		PageSize:    m.cfg.PageSize,
		CatalogInDB: m.cfg.CatalogInDB,
		WALInDB:     m.cfg.WALInDB,
	})
	if err != nil {
		os.RemoveAll(dir)
		return err
	}
	if err := dm.Close(); err != nil {
		os.RemoveAll(dir)
		return err
	}
	return nil
}

// DropDatabase closes name if open and removes its directory entirely.
// The system database can never be dropped.
func (m *Manager) DropDatabase(name string, ifExists bool) error {
	if normalize(name) == normalize(SystemDatabase) {
		return dberr.New(dberr.PermissionDenied, "the system database cannot be dropped")
	}
	exists, err := m.DatabaseExists(name)
	if err != nil {
		return err
	}
	if !exists {
		if ifExists {
			return nil
		}
		return dberr.Newf(dberr.SemanticError, "database %q does not exist", name)
	}

	m.mu.Lock()
	if d, open := m.dbs[normalize(name)]; open {
		_ = d.close(context.Background())
		delete(m.dbs, normalize(name))
	}
	m.mu.Unlock()

	if err := os.RemoveAll(m.dbDir(name)); err != nil {
		return dberr.Wrap(dberr.IOError, err, "remove database directory")
	}
	return nil
}

// open returns the *database for name, opening its storage stack (and
// running WAL recovery) the first time it's requested.
func (m *Manager) open(name string) (*database, error) {
	key := normalize(name)

	m.mu.RLock()
	if d, ok := m.dbs[key]; ok {
		m.mu.RUnlock()
		return d, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.dbs[key]; ok {
		return d, nil
	}

	exists, err := m.DatabaseExists(name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, dberr.Newf(dberr.SemanticError, "database %q does not exist", name)
	}

	d, err := m.openLocked(name)
	if err != nil {
		return nil, err
	}
	m.dbs[key] = d
	return d, nil
}

func (m *Manager) openLocked(name string) (*database, error) {
	dir := m.dbDir(name)
	dataPath := filepath.Join(dir, dataFileName)

	dm, err := disk.Open(disk.Config{
		Path:        dataPath,
		PageSize:    m.cfg.PageSize,
		CatalogInDB: m.cfg.CatalogInDB,
		WALInDB:     m.cfg.WALInDB,
	})
	if err != nil {
		return nil, err
	}
	catalogInDB, _, err := dm.VerifyMagic()
	if err != nil {
		dm.Close()
		return nil, err
	}

	walPath := filepath.Join(dir, walFileName)
	w, err := wal.Open(walPath, dm.PageSize())
	if err != nil {
		dm.Close()
		return nil, err
	}
	if err := recoverWAL(dm, w, walPath); err != nil {
		w.Close()
		dm.Close()
		return nil, err
	}

	pool := buffer.New(dm, m.cfg.BufferPoolPages)

	var backend catalog.Backend
	if catalogInDB {
		root := dm.CatalogRootPage()
		if root == 0 {
			b, err := catalog.CreateDBBackend(pool)
			if err != nil {
				w.Close()
				dm.Close()
				return nil, err
			}
			if err := dm.SetCatalogRootPage(b.FirstPageID()); err != nil {
				w.Close()
				dm.Close()
				return nil, err
			}
			backend = b
		} else {
			backend = catalog.OpenDBBackend(pool, root)
		}
	} else {
		fb, err := catalog.OpenFileBackend(filepath.Join(dir, catalogFileName))
		if err != nil {
			w.Close()
			dm.Close()
			return nil, err
		}
		backend = fb
	}
	cat := catalog.New(backend)
	txns := txn.NewManager(w)
	eng := executor.New(pool, cat, txns)
	eng.Hasher = auth.New()

	return &database{
		name:   name,
		disk:   dm,
		pool:   pool,
		wal:    w,
		txns:   txns,
		cat:    cat,
		engine: eng,
	}, nil
}

// Targets implements scheduler.TargetLister: one Target per currently
// open database.
func (m *Manager) Targets() []scheduler.Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]scheduler.Target, 0, len(m.dbs))
	for _, d := range m.dbs {
		out = append(out, d)
	}
	return out
}

// Close checkpoints and closes every open database.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx := context.Background()
	var first error
	for key, d := range m.dbs {
		if err := d.close(ctx); err != nil && first == nil {
			first = err
		}
		delete(m.dbs, key)
	}
	return first
}

func normalize(s string) string { return strings.ToLower(s) }
