/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestWorkerUnit_Start_Stop(t *testing.T) {
	t.Run("stop gracefully waits for worker", func(t *testing.T) {
		var finished atomic.Bool
		running := make(chan struct{})
		unit := NewWorkerUnit(WorkerFunc(func(ctx context.Context) error {
			close(running)
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		}))
		fatalErr := make(chan error, 1)
		go unit.Start(fatalErr)
		<-running

		require.NoError(t, unit.Stop(true))
		require.True(t, finished.Load())
		require.Len(t, fatalErr, 0)
	})

	t.Run("stop gracefully with exceeded timeout", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		running := make(chan struct{})
		unit := NewWorkerUnitWithOpts(WorkerFunc(func(ctx context.Context) error {
			close(running)
			<-release
			return nil
		}), WorkerUnitOpts{GracefulStopTimeout: 50 * time.Millisecond})
		go unit.Start(make(chan error, 1))
		<-running

		require.ErrorIs(t, unit.Stop(true), ErrWorkerUnitStopTimeoutExceeded)
	})

	t.Run("stop non-gracefully returns immediately", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		unit := NewWorkerUnit(WorkerFunc(func(ctx context.Context) error {
			<-release
			return nil
		}))
		go unit.Start(make(chan error, 1))

		require.NoError(t, unit.Stop(false))
	})

	t.Run("stop without start", func(t *testing.T) {
		var called atomic.Bool
		unit := NewWorkerUnit(WorkerFunc(func(ctx context.Context) error {
			called.Store(true)
			return nil
		}))
		require.NoError(t, unit.Stop(true))

		// the worker sees the canceled context if the unit is started afterwards
		fatalErr := make(chan error, 1)
		unit.Start(fatalErr)
		require.True(t, called.Load())
		require.Len(t, fatalErr, 0)
	})

	t.Run("worker error is reported as fatal", func(t *testing.T) {
		workerErr := errors.New("worker failed")
		unit := NewWorkerUnit(WorkerFunc(func(ctx context.Context) error {
			return workerErr
		}))
		fatalErr := make(chan error, 1)
		unit.Start(fatalErr)
		require.ErrorIs(t, <-fatalErr, workerErr)
		require.NoError(t, unit.Stop(true))
	})
}
