// internal/browser/session/context_utils_test.go
package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineContext(t *testing.T) {
	type ctxKey string
	const key ctxKey = "target"
	const value = "tab-1"

	t.Run("InheritsValuesFromPrimary", func(t *testing.T) {
		ctx1 := context.WithValue(context.Background(), key, value)

		combinedCtx, cancel := CombineContext(ctx1, context.Background())
		defer cancel()

		assert.Equal(t, value, combinedCtx.Value(key))
		assert.NoError(t, combinedCtx.Err())
	})

	t.Run("CancelledByPrimary", func(t *testing.T) {
		ctx1, cancel1 := context.WithCancel(context.Background())
		combinedCtx, cancelCombined := CombineContext(ctx1, context.Background())
		defer cancelCombined()

		cancel1()

		assert.Eventually(t, func() bool {
			return combinedCtx.Err() != nil
		}, time.Second, 10*time.Millisecond)
		assert.ErrorIs(t, combinedCtx.Err(), context.Canceled)
	})

	t.Run("CancelledBySecondary", func(t *testing.T) {
		ctx2, cancel2 := context.WithCancel(context.Background())
		combinedCtx, cancelCombined := CombineContext(context.Background(), ctx2)
		defer cancelCombined()

		cancel2()

		assert.Eventually(t, func() bool {
			return combinedCtx.Err() != nil
		}, time.Second, 10*time.Millisecond)
		assert.ErrorIs(t, combinedCtx.Err(), context.Canceled)
		assert.False(t, timedOut(combinedCtx))
	})

	t.Run("SecondaryDeadlineIsReportedAsCause", func(t *testing.T) {
		ctx1, cancel1 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel1()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel2()

		combinedCtx, cancelCombined := CombineContext(ctx1, ctx2)
		defer cancelCombined()

		<-combinedCtx.Done()
		assert.ErrorIs(t, combinedCtx.Err(), context.Canceled)
		assert.ErrorIs(t, context.Cause(combinedCtx), context.DeadlineExceeded)
		assert.True(t, timedOut(combinedCtx))
	})

	t.Run("DeadlineFromPrimary", func(t *testing.T) {
		deadline := time.Now().Add(50 * time.Millisecond)
		ctx1, cancel1 := context.WithDeadline(context.Background(), deadline)
		defer cancel1()

		combinedCtx, cancelCombined := CombineContext(ctx1, context.Background())
		defer cancelCombined()

		got, ok := combinedCtx.Deadline()
		require.True(t, ok)
		assert.Equal(t, deadline, got)

		<-combinedCtx.Done()
		assert.ErrorIs(t, combinedCtx.Err(), context.DeadlineExceeded)
		assert.True(t, timedOut(combinedCtx))
	})

	t.Run("ExplicitCancellation", func(t *testing.T) {
		combinedCtx, cancelCombined := CombineContext(context.Background(), context.Background())
		cancelCombined()
		assert.ErrorIs(t, combinedCtx.Err(), context.Canceled)
	})
}

func TestDetach(t *testing.T) {
	type ctxKey string
	const key ctxKey = "target"
	const value = "tab-1"

	t.Run("InheritsValues", func(t *testing.T) {
		detached := Detach(context.WithValue(context.Background(), key, value))
		assert.Equal(t, value, detached.Value(key))
	})

	t.Run("IgnoresParentCancellation", func(t *testing.T) {
		parent, cancelParent := context.WithCancel(context.Background())
		detached := Detach(parent)

		cancelParent()

		assert.ErrorIs(t, parent.Err(), context.Canceled)
		assert.NoError(t, detached.Err())
		assert.Nil(t, detached.Done())
	})

	t.Run("IgnoresParentDeadline", func(t *testing.T) {
		parent, cancelParent := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancelParent()
		detached := Detach(parent)

		<-parent.Done()

		_, ok := detached.Deadline()
		assert.False(t, ok)
		assert.NoError(t, detached.Err())
	})

	t.Run("DerivedFromDetached", func(t *testing.T) {
		parent, cancelParent := context.WithCancel(context.Background())
		derived, cancelDerived := context.WithTimeout(Detach(parent), 30*time.Millisecond)
		defer cancelDerived()

		cancelParent()
		<-derived.Done()

		assert.ErrorIs(t, derived.Err(), context.DeadlineExceeded)
	})
}
