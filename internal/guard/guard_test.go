package guard

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

func TestEnterRejectsReentry(t *testing.T) {
	var g Guard
	ctx, release, err := g.Enter(context.Background())
	require.NoError(t, err)
	defer release()

	require.True(t, Held(ctx, &g))
	_, release2, err := g.Enter(ctx)
	require.ErrorIs(t, err, domain.ErrReentrantCall)
	release2()
}

func TestGuardsAreIndependent(t *testing.T) {
	var a, b Guard
	ctx, releaseA, err := a.Enter(context.Background())
	require.NoError(t, err)
	defer releaseA()

	ctx, releaseB, err := b.Enter(ctx)
	require.NoError(t, err)
	defer releaseB()

	require.True(t, Held(ctx, &a))
	require.True(t, Held(ctx, &b))
}

func TestEnterSerialises(t *testing.T) {
	var g Guard
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release, err := g.Enter(context.Background())
			if err != nil {
				return
			}
			counter++
			release()
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
}
