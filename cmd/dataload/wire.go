package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"dataload/internal/config"
	"dataload/internal/csvsink"
	"dataload/internal/extract"
	"dataload/internal/metrics"
	"dataload/internal/metrics/datadog"
	"dataload/internal/metrics/prompush"
	"dataload/internal/naming"
	"dataload/internal/pipeline"
	"dataload/internal/storage"
	"dataload/internal/transformer"
	"dataload/internal/upload"
)

// transfer is a wired, initialized engine plus the connections it owns.
type transfer struct {
	engine *pipeline.Engine
	req    *pipeline.Request
	source *extract.Source
	repos  []storage.Repository
}

func (t *transfer) Close() {
	for _, r := range t.repos {
		r.Close()
	}
}

// build opens both ends and binds a fresh request. now stamps the $t token.
func build(ctx context.Context, cfg *config.Transfer, l pipeline.Listener, now time.Time) (*transfer, error) {
	distinct, err := extract.ParseDistinct(cfg.Source.Distinct)
	if err != nil {
		return nil, err
	}
	chain, err := transformer.Build(cfg.Transform)
	if err != nil {
		return nil, err
	}

	t := &transfer{}
	srcRepo, err := storage.New(ctx, storage.Config{Kind: cfg.Source.Kind, DSN: cfg.Source.DSN})
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	t.repos = append(t.repos, srcRepo)

	t.source = extract.New(srcRepo, extract.Config{
		Distinct:          distinct,
		IdentifierColumns: cfg.Source.IdentifierColumns,
		OrderColumn:       cfg.Source.OrderColumn,
		FoldOrderKeys:     foldsOrderKeys(srcRepo.Kind()),
		PrimaryKey:        cfg.Source.PrimaryKey,
		Validation:        cfg.Source.Validation,
		CoverageColumn:    cfg.Source.Coverage.DateColumn,
	})

	dst, err := destination(ctx, t, cfg.Destination)
	if err != nil {
		t.Close()
		return nil, err
	}

	var stages []pipeline.Stage
	if len(chain) > 0 {
		stages = append(stages, chain)
	}
	t.engine = pipeline.New(t.source, dst, stages...)
	t.engine.Listener = l
	if cfg.Run.ProgressEvery > 0 {
		t.engine.ProgressEvery = cfg.Run.ProgressEvery
	}

	values := cfg.Destination.Values
	if values.Time.IsZero() {
		values.Time = now
	}
	t.req = pipeline.NewRequest(cfg.Job,
		pipeline.SourceQuery{SQL: cfg.Source.Query, PageSize: cfg.Source.PageSize, Timeout: cfg.Source.Timeout()},
		pipeline.Target{Pattern: naming.Pattern(cfg.Destination.Target), Values: values})
	t.req.AllowEmpty = cfg.Run.AllowEmpty

	if err := t.engine.Initialize(t.req); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func destination(ctx context.Context, t *transfer, d config.Destination) (pipeline.Destination, error) {
	if d.IsFile() {
		return csvsink.New(csvsink.Config{Dir: d.Dir, Overwrite: d.AllowPopulated}), nil
	}
	repo, err := storage.New(ctx, storage.Config{Kind: d.Kind, DSN: d.DSN})
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}
	t.repos = append(t.repos, repo)

	def := upload.DefaultConfig()
	cfg := upload.Config{
		TypeOverrides:   d.TypeOverrides,
		AllowPopulated:  d.AllowPopulated,
		DropOnFailure:   config.BoolOr(d.DropOnFailure, def.DropOnFailure),
		SchemaEvolution: config.BoolOr(d.SchemaEvolution, def.SchemaEvolution),
		ChunkSize:       d.ChunkSize,
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	return upload.New(repo, cfg), nil
}

// setupMetrics installs the configured backend and returns the flush to defer.
// foldsOrderKeys reports whether kind orders text under a case-insensitive
// pad-space collation by default.
func foldsOrderKeys(kind string) bool {
	return kind == "mssql" || kind == "mysql"
}

func setupMetrics(m config.Metrics, job string, l pipeline.Listener) (func(), error) {
	var (
		b   metrics.Backend
		err error
	)
	switch m.Backend {
	case "", "none":
		return func() {}, nil
	case "prometheus":
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", m.PushgatewayURL, m.Backend, job)
		b, err = prompush.NewBackend(job, m.PushgatewayURL)
	case "datadog":
		log.Printf("metrics: addr=%v, backend=%v, tags=%v", m.DatadogAddr, m.Backend, m.DatadogTags)
		b, err = datadog.NewBackend(datadog.Config{Addr: m.DatadogAddr, GlobalTags: m.DatadogTags})
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", m.Backend)
	}
	if err != nil {
		return nil, err
	}
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			pipeline.Warnf(l, "metrics flush: %v", err)
		}
		metrics.Reset()
	}, nil
}
