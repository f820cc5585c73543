package cli

import (
	"github.com/roach88/metafs/internal/config"
	"github.com/roach88/metafs/internal/detect"
	"github.com/roach88/metafs/internal/digest"
	"github.com/roach88/metafs/internal/store"
)

// openStore opens the configured database with the configured collaborators.
func openStore(cfg *config.Config) (*store.Store, error) {
	hasher, err := digest.New(cfg.Scan.Hash)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid hash algorithm", err)
	}

	detector, err := detect.NewFromFile(cfg.Detect.MagicFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load detector rules", err)
	}

	st, err := store.Open(cfg.DB.Path, store.Options{
		Driver:       cfg.DB.Driver,
		MaxParseSize: cfg.Scan.MaxParseSize,
		Hasher:       hasher,
		Detector:     detector,
		CacheSize:    cfg.Store.ResolverCache,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
