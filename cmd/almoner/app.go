// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/almoner/internal/database"
	"github.com/tomtom215/almoner/internal/ledger"
	"github.com/tomtom215/almoner/internal/recommend"
	"github.com/tomtom215/almoner/internal/recommend/algorithms"
	"github.com/tomtom215/almoner/internal/recommend/storage"
	"github.com/tomtom215/almoner/internal/validation"
)

// components are the stores and the engine shared by the commands. Close
// releases whatever was opened.
type components struct {
	db     *database.DB
	ledger *ledger.Store
	store  *storage.Store
	engine *recommend.Engine
}

func (c *components) Close() error {
	var errs []error
	if c.ledger != nil {
		errs = append(errs, c.ledger.Close())
	}
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	return errors.Join(errs...)
}

// openOptions selects what openComponents opens.
type openOptions struct {
	ledger bool
	engine bool
}

func (a *app) openComponents(ctx context.Context, opts openOptions) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	c.db, err = database.Open(ctx, a.cfg.Database, a.logger)
	if err != nil {
		return nil, err
	}
	if opts.ledger {
		c.ledger, err = ledger.Open(a.cfg.Ledger, a.logger)
		if err != nil {
			return nil, err
		}
	}
	if !opts.engine {
		return c, nil
	}

	c.store, err = storage.NewStore(a.cfg.Models.Dir)
	if err != nil {
		return nil, fmt.Errorf("open model store: %w", err)
	}
	c.engine, err = recommend.NewEngine(&a.cfg.Recommend, algorithms.NewModels, a.logger)
	if err != nil {
		return nil, err
	}
	c.engine.SetDataProvider(c.db)
	if c.ledger != nil {
		c.engine.SetLabelSource(c.ledger)
	}
	return c, nil
}

// loadLatest publishes the newest saved model set. A missing set is not an
// error; found reports whether one was loaded.
func (c *components) loadLatest(ctx context.Context) (found bool, err error) {
	if err := c.engine.LoadModels(ctx, c.store, 0); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// servingEngine prepares the engine for one-shot queries: current data from
// the read model and the latest saved models, or a fresh fit when train is
// set and nothing was saved.
func (a *app) servingEngine(ctx context.Context, train bool) (*components, error) {
	c, err := a.openComponents(ctx, openOptions{ledger: train, engine: true})
	if err != nil {
		return nil, err
	}
	found, err := c.loadLatest(ctx)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	switch {
	case found:
		err = c.engine.RefreshData(ctx)
	case train:
		err = c.engine.Train(ctx)
	default:
		err = errors.New("no saved model set; run `almoner train` first or pass --train")
	}
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// validateFlags checks a flag struct. Messages name the flags.
func validateFlags(v any) error {
	if err := validation.ValidateStruct(v); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}
