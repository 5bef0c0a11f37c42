// Package app wires configuration, backends, and the per-dataset engines
// together for the CLI and the HTTP server.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ComputeHeavy/gonk/internal/config"
	"github.com/ComputeHeavy/gonk/internal/depot"
	"github.com/ComputeHeavy/gonk/internal/gonk"
	"github.com/ComputeHeavy/gonk/internal/integrity"
	"github.com/ComputeHeavy/gonk/internal/record"
	"github.com/ComputeHeavy/gonk/internal/state"
	"github.com/ComputeHeavy/gonk/internal/users"
)

// App holds the installation-wide pieces: configuration, the user store,
// signature keys, and a cache of opened dataset engines.
type App struct {
	cfg   *config.Config
	log   gonk.Logger
	users *users.Store
	keys  *integrity.KeyStore

	mu       sync.Mutex
	datasets map[string]*gonk.Dataset
}

// New creates an App from cfg. The caller must call Close when done.
func New(cfg *config.Config, log gonk.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DatasetsDir(), 0755); err != nil {
		return nil, fmt.Errorf("creating datasets directory: %w", err)
	}

	store, err := users.Open(cfg.UsersDBPath())
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		users:    store,
		datasets: make(map[string]*gonk.Dataset),
	}

	if cfg.Integrity.Mode == "signature" {
		keys, err := integrity.NewKeyStore(cfg.Integrity.KeyDir)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.keys = keys
	}
	return a, nil
}

// Close releases the user store. Dataset backends hold their own handles and
// live for the process lifetime.
func (a *App) Close() error {
	return a.users.Close()
}

// Users exposes the account store.
func (a *App) Users() *users.Store { return a.users }

// Keys exposes the signature-mode key store; nil in chain mode.
func (a *App) Keys() *integrity.KeyStore { return a.keys }

// Config exposes the installation configuration.
func (a *App) Config() *config.Config { return a.cfg }

// DatasetNameOK validates a dataset name: letters, digits and dashes only,
// not starting with a dash.
func DatasetNameOK(name string) error {
	if name == "" {
		return gonk.Validationf("dataset-name", "dataset name cannot be empty")
	}
	if strings.HasPrefix(name, "-") {
		return gonk.Validationf("dataset-name", "names may not start with a dash")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return gonk.Validationf("dataset-name", "only letters, numbers, and dashes allowed")
		}
	}
	return nil
}

func (a *App) datasetDir(name string) string {
	return filepath.Join(a.cfg.DatasetsDir(), name)
}

// build assembles an engine over the configured backends for one dataset
// directory.
func (a *App) build(name, dir string) (*gonk.Dataset, error) {
	rk, err := record.NewFromConfig(a.cfg.Record, dir)
	if err != nil {
		return nil, fmt.Errorf("creating record keeper: %w", err)
	}
	dep, err := depot.NewFromConfig(a.cfg.Depot, dir, name)
	if err != nil {
		return nil, fmt.Errorf("creating depot: %w", err)
	}
	st, err := state.NewFromConfig(a.cfg.State, dir, rk)
	if err != nil {
		return nil, fmt.Errorf("creating state: %w", err)
	}

	var integ gonk.Integrity
	switch a.cfg.Integrity.Mode {
	case "chain", "":
		integ = integrity.NewHashChain(rk)
	case "signature":
		integ = integrity.NewSigner(a.keys)
	default:
		return nil, fmt.Errorf("unknown integrity mode: %s", a.cfg.Integrity.Mode)
	}

	return gonk.NewDataset(name, rk, dep, st, integ,
		gonk.RealClock{}, gonk.UUIDGenerator{}, a.log), nil
}

// CreateDataset creates a new dataset owned by author.
func (a *App) CreateDataset(name, author string) (*gonk.Dataset, error) {
	if err := DatasetNameOK(name); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dir := a.datasetDir(name)
	if _, err := os.Stat(dir); err == nil {
		return nil, gonk.Validationf("dataset-name", "dataset already exists")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating dataset directory: %w", err)
	}

	ds, err := a.build(name, dir)
	if err != nil {
		return nil, err
	}
	if _, err := ds.AddOwner(author, author); err != nil {
		return nil, err
	}
	a.datasets[name] = ds
	a.log.Info("dataset created", "dataset", name, "owner", author)
	return ds, nil
}

// OpenDataset returns the engine for an existing dataset, opening it on
// first use.
func (a *App) OpenDataset(name string) (*gonk.Dataset, error) {
	if err := DatasetNameOK(name); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if ds, ok := a.datasets[name]; ok {
		return ds, nil
	}
	dir := a.datasetDir(name)
	if _, err := os.Stat(dir); err != nil {
		return nil, gonk.NotFoundf("dataset", "%s", name)
	}
	ds, err := a.build(name, dir)
	if err != nil {
		return nil, err
	}
	a.datasets[name] = ds
	return ds, nil
}

// ListDatasets lists dataset names in lexical order.
func (a *App) ListDatasets() ([]string, error) {
	entries, err := os.ReadDir(a.cfg.DatasetsDir())
	if err != nil {
		return nil, fmt.Errorf("reading datasets directory: %w", err)
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// VerifyDataset recomputes integrity tokens over a dataset's whole log.
func (a *App) VerifyDataset(name string) (firstBad uint64, ok bool, err error) {
	ds, err := a.OpenDataset(name)
	if err != nil {
		return 0, false, err
	}
	if a.cfg.Integrity.Mode == "signature" {
		return integrity.VerifySignatures(ds.Records(), a.keys)
	}
	return integrity.VerifyChain(ds.Records())
}

// RebuildDataset clears the state projection and replays the log into it.
func (a *App) RebuildDataset(name string) error {
	ds, err := a.OpenDataset(name)
	if err != nil {
		return err
	}
	st := ds.State()
	if resettable, ok := st.(interface{ Reset() error }); ok {
		if err := resettable.Reset(); err != nil {
			return err
		}
	}
	if err := ds.Replay(st); err != nil {
		return err
	}
	a.log.Info("dataset state rebuilt", "dataset", name)
	return nil
}
