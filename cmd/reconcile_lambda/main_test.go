package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"memorial-credits/internal/reconcile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	res reconcile.SweepResult
	err error
}

func (f fakeSweeper) Sweep(context.Context) (reconcile.SweepResult, error) { return f.res, f.err }

func TestHandle_FlushesAndReportsResult(t *testing.T) {
	flushed := 0
	h := handler{
		job:   fakeSweeper{res: reconcile.SweepResult{Identities: 2, Reconciled: 1, Credits: 5, Failures: 1}},
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		flush: func(context.Context) error { flushed++; return nil },
	}

	res, err := h.Handle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Credits)
	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, 1, flushed)
}

func TestHandle_PropagatesSweepError(t *testing.T) {
	boom := errors.New("orphan store unavailable")
	h := handler{job: fakeSweeper{err: boom}, log: slog.New(slog.NewTextHandler(io.Discard, nil))}

	_, err := h.Handle(context.Background())
	assert.ErrorIs(t, err, boom)
}
