package main

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"idx-pipeline/config"
	"idx-pipeline/events"
	"idx-pipeline/scraper/idx"
	"idx-pipeline/services"
	"idx-pipeline/storage"
	"idx-pipeline/utils"
)

// extraction holds everything a scheduler run broadcasts into.
type extraction struct {
	cfg       *config.Config
	logger    *utils.Logger
	extractor *idx.Extractor
	holder    *idx.RecordHolder
	sessions  *storage.SessionStore
	hub       *events.Hub
	store     storage.CatalogStore
	csv       *storage.CSVWriter
	cleaner   *services.Cleaner

	browserMu sync.Mutex
	browser   *idx.Browser
}

func newExtraction(cfg *config.Config, logger *utils.Logger, store storage.CatalogStore,
	sessions *storage.SessionStore, hub *events.Hub) (*extraction, error) {
	rules, err := idx.LoadRules(cfg.SelectorsPath)
	if err != nil {
		return nil, err
	}
	x := &extraction{
		cfg:       cfg,
		logger:    logger,
		extractor: idx.NewExtractor(rules, nil, logger).WithMaxImages(cfg.MaxImages),
		holder:    &idx.RecordHolder{},
		sessions:  sessions,
		hub:       hub,
		store:     store,
		cleaner:   services.NewCleaner(logger),
	}
	if cfg.ExtractCSVPath != "" {
		w, err := storage.NewCSVWriter(cfg.ExtractCSVPath)
		if err != nil {
			return nil, err
		}
		x.csv = w
	}
	return x, nil
}

func (x *extraction) Close() {
	x.browserMu.Lock()
	if x.browser != nil {
		x.browser.Close()
		x.browser = nil
	}
	x.browserMu.Unlock()
	if x.csv != nil {
		_ = x.csv.Close()
	}
}

// sink assembles the broadcast fan-out. page and parent may be nil.
func (x *extraction) sink(page *idx.Page, parent io.Writer) *idx.Fanout {
	f := idx.NewFanout(x.logger).
		Add("holder", x.holder).
		Add("session", idx.SessionSink{Store: x.sessions}).
		Add("hub", idx.HubSink{Hub: x.hub})
	if page != nil {
		f.Add("page", page)
	}
	if parent != nil {
		enc := json.NewEncoder(parent)
		f.Add("parent", idx.ParentSink(func(m idx.ParentMessage) error { return enc.Encode(m) }))
	}
	if x.csv != nil {
		f.Add("csv", idx.LogSink{Writer: x.csv})
	}
	if x.store != nil {
		f.Add("catalog", services.CatalogSink{Store: x.store, Cleaner: x.cleaner, Logger: x.logger})
	}
	return f
}

func (x *extraction) schedulerConfig() idx.SchedulerConfig {
	return idx.SchedulerConfig{
		MaxAttempts: x.cfg.ExtractMaxAttempts,
		RetryDelay:  x.cfg.RetryDelay(),
		SettleDelay: x.cfg.SettleDelay(),
	}
}

func (x *extraction) pageOptions() idx.PageOptions {
	return idx.PageOptions{
		Timeout:      secondsOf(x.cfg.PageTimeoutSeconds),
		PollInterval: millisOf(x.cfg.MutationPollMs),
	}
}

func (x *extraction) getBrowser(ctx context.Context) (*idx.Browser, error) {
	x.browserMu.Lock()
	defer x.browserMu.Unlock()
	if x.browser != nil {
		return x.browser, nil
	}
	b, err := idx.NewBrowser(ctx, x.cfg.ChromeBin, x.logger)
	if err != nil {
		return nil, err
	}
	x.browser = b
	return b, nil
}

// runPage opens pageURL and starts a scheduler on it. The returned
// scheduler owns the page: it is closed once the scheduler is done.
func (x *extraction) runPage(ctx context.Context, pageURL string, parent io.Writer) (*idx.Scheduler, error) {
	b, err := x.getBrowser(ctx)
	if err != nil {
		return nil, err
	}
	page, err := b.Open(ctx, pageURL, x.pageOptions())
	if err != nil {
		return nil, err
	}

	sched := idx.NewScheduler(x.schedulerConfig(), x.extractor, page, page, x.sink(page, parent), nil, x.logger)
	go func() {
		<-sched.Done()
		x.reportExhausted(sched)
		page.Close()
	}()
	sched.Start(ctx)
	return sched, nil
}

// StartExtraction is the server's background entry point.
func (x *extraction) StartExtraction(ctx context.Context, pageURL string) (string, error) {
	sched, err := x.runPage(ctx, pageURL, nil)
	if err != nil {
		return "", err
	}
	return sched.ID(), nil
}

// runFile extracts from a saved page. With watch set, writes to the file act
// as DOM mutations.
func (x *extraction) runFile(ctx context.Context, path, pageURL string, watch bool, parent io.Writer) *idx.Scheduler {
	var mutations idx.MutationStream
	if watch {
		mutations = idx.FileWatch{Path: path, Logger: x.logger}
	}
	source := idx.FileSource{Path: path, URL: pageURL}
	sched := idx.NewScheduler(x.schedulerConfig(), x.extractor, source, mutations, x.sink(nil, parent), nil, x.logger)
	go func() {
		<-sched.Done()
		x.reportExhausted(sched)
	}()
	sched.Start(ctx)
	return sched
}

func (x *extraction) reportExhausted(sched *idx.Scheduler) {
	if sched.State() != idx.StateExhausted {
		return
	}
	x.hub.Emit(sched.ID(), events.TypeExtractExhausted, map[string]any{
		"session":  sched.ID(),
		"attempts": sched.Attempts(),
	})
}
