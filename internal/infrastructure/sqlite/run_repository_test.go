package sqlite

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/mandelgather/internal/fractal"
	"github.com/zjrosen/mandelgather/internal/runs/domain"
)

func TestRunRepository_SaveAndFind(t *testing.T) {
	repo := newTestDB(t).RunRepository()

	p := fractal.Params{
		Width:    640,
		Height:   480,
		MaxIters: 256,
		Region:   fractal.Region{MinReal: -0.7436438870371587, MaxReal: -0.74, MinImag: 0.1318, MaxImag: 0.14},
	}
	run := domain.NewRun("run-a", p, 4, "process", "p2p")
	require.NoError(t, repo.Save(run))
	require.NotZero(t, run.ID())

	got, err := repo.FindByGUID("run-a")
	require.NoError(t, err)
	require.Equal(t, run.ID(), got.ID())
	require.Equal(t, p, got.Params(), "region survives bit-for-bit")
	require.Equal(t, p.Digest(), got.Digest())
	require.Equal(t, 4, got.Workers())
	require.Equal(t, "process", got.Transport())
	require.Equal(t, "p2p", got.GatherMode())
	require.Equal(t, domain.RunStateRunning, got.State())
	require.Nil(t, got.CompletedAt())
	require.Equal(t, run.CreatedAt().UnixNano(), got.CreatedAt().UnixNano())
}

func TestRunRepository_UpdateOutcome(t *testing.T) {
	repo := newTestDB(t).RunRepository()

	run := domain.NewRun("run-b", fractal.Defaults(), 2, "local", "collective")
	require.NoError(t, repo.Save(run))

	run.Complete(2*time.Second, "0123456789abcdef", "out.ppm")
	require.NoError(t, repo.Save(run))

	got, err := repo.FindByGUID("run-b")
	require.NoError(t, err)
	require.Equal(t, domain.RunStateCompleted, got.State())
	require.Equal(t, 2*time.Second, got.Elapsed())
	require.Equal(t, "0123456789abcdef", got.Checksum())
	require.Equal(t, "out.ppm", got.Output())
	require.Empty(t, got.Error())
	require.NotNil(t, got.CompletedAt())
}

func TestRunRepository_FailedRun(t *testing.T) {
	repo := newTestDB(t).RunRepository()

	run := domain.NewRun("run-c", fractal.Defaults(), 3, "local", "collective")
	require.NoError(t, repo.Save(run))
	run.Fail(time.Second, "", errors.New("aggregation incomplete"))
	require.NoError(t, repo.Save(run))

	got, err := repo.FindByGUID("run-c")
	require.NoError(t, err)
	require.Equal(t, domain.RunStateFailed, got.State())
	require.Equal(t, "aggregation incomplete", got.Error())
	require.Empty(t, got.Checksum())
}

func TestRunRepository_FindMissing(t *testing.T) {
	repo := newTestDB(t).RunRepository()

	_, err := repo.FindByGUID("nope")
	var notFound *domain.RunNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "nope", notFound.GUID)
}

func TestRunRepository_DuplicateGUID(t *testing.T) {
	repo := newTestDB(t).RunRepository()

	require.NoError(t, repo.Save(domain.NewRun("dup", fractal.Defaults(), 1, "local", "collective")))
	require.Error(t, repo.Save(domain.NewRun("dup", fractal.Defaults(), 1, "local", "collective")))
}

func TestRunRepository_List(t *testing.T) {
	repo := newTestDB(t).RunRepository()

	small := fractal.Params{Width: 4, Height: 4, MaxIters: 50, Region: fractal.DefaultRegion}
	for i := range 5 {
		p := fractal.Defaults()
		if i%2 == 0 {
			p = small
		}
		run := domain.NewRun(fmt.Sprintf("run-%d", i), p, i+1, "local", "collective")
		require.NoError(t, repo.Save(run))
		if i < 3 {
			run.Complete(time.Millisecond, "c", "")
		} else {
			run.Fail(time.Millisecond, "", errors.New("boom"))
		}
		require.NoError(t, repo.Save(run))
	}

	all, err := repo.List(domain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.Equal(t, "run-4", all[0].GUID(), "newest first")
	require.Equal(t, "run-0", all[4].GUID())

	failed, err := repo.List(domain.ListFilter{State: domain.RunStateFailed})
	require.NoError(t, err)
	require.Len(t, failed, 2)

	sameParams, err := repo.List(domain.ListFilter{Digest: small.Digest()})
	require.NoError(t, err)
	require.Len(t, sameParams, 3)

	limited, err := repo.List(domain.ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "run-4", limited[0].GUID())
}

func TestRunRepository_Delete(t *testing.T) {
	repo := newTestDB(t).RunRepository()

	require.NoError(t, repo.Save(domain.NewRun("gone", fractal.Defaults(), 1, "local", "collective")))
	require.NoError(t, repo.Delete("gone"))

	_, err := repo.FindByGUID("gone")
	var notFound *domain.RunNotFoundError
	require.ErrorAs(t, err, &notFound)

	require.ErrorAs(t, repo.Delete("gone"), &notFound)
}

func TestRunRepository_UpdateUnknown(t *testing.T) {
	repo := newTestDB(t).RunRepository()

	run := domain.ReconstituteRun(42, "ghost", fractal.Defaults(), "", 1, "local", "collective",
		domain.RunStateRunning, 0, "", "", "", time.Now(), nil)
	var notFound *domain.RunNotFoundError
	require.ErrorAs(t, repo.Save(run), &notFound)
}
