package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type passthroughTxRunner struct{}

func (passthroughTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

// scriptedPruner hands back one result per call.
type scriptedPruner struct {
	results []int64
	err     error
	cutoffs []time.Time
	limits  []int
}

func (p *scriptedPruner) DeletePublishedBefore(_ *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	p.limits = append(p.limits, limit)
	if p.err != nil {
		return 0, p.err
	}
	if len(p.results) == 0 {
		return 0, nil
	}
	n := p.results[0]
	p.results = p.results[1:]
	return n, nil
}

func newRetentionJob(t *testing.T, pruner *scriptedPruner, retention time.Duration, batch int) *OutboxRetentionJob {
	t.Helper()
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:    quietLogger(),
		DB:        passthroughTxRunner{},
		Outbox:    pruner,
		Retention: retention,
		Batch:     batch,
	})
	require.NoError(t, err)
	job.now = func() time.Time { return time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC) }
	return job
}

func TestOutboxRetentionDefaults(t *testing.T) {
	pruner := &scriptedPruner{results: []int64{7}}
	job := newRetentionJob(t, pruner, 0, 0)

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, pruner.cutoffs, 1)
	assert.Equal(t, time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC), pruner.cutoffs[0])
	assert.Equal(t, []int{defaultPruneBatch}, pruner.limits)
}

func TestOutboxRetentionDrainsFullBatches(t *testing.T) {
	pruner := &scriptedPruner{results: []int64{10, 10, 3}}
	job := newRetentionJob(t, pruner, 72*time.Hour, 10)

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, pruner.cutoffs, 3, "stops after the first short batch")
	assert.Equal(t, time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC), pruner.cutoffs[2])
}

func TestOutboxRetentionStopsOnCancel(t *testing.T) {
	pruner := &scriptedPruner{results: []int64{10, 10, 10}}
	job := newRetentionJob(t, pruner, time.Hour, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, job.Run(ctx))
	assert.Len(t, pruner.cutoffs, 1)
}

func TestOutboxRetentionPropagatesError(t *testing.T) {
	job := newRetentionJob(t, &scriptedPruner{err: errors.New("boom")}, 0, 0)
	assert.ErrorContains(t, job.Run(context.Background()), "boom")
}

func TestNewOutboxRetentionJobValidates(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{DB: passthroughTxRunner{}, Outbox: &scriptedPruner{}})
	assert.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: quietLogger(), Outbox: &scriptedPruner{}})
	assert.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: quietLogger(), DB: passthroughTxRunner{}})
	assert.Error(t, err)
}
