package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/pipeline"
	"github.com/terraskye/pipeline/eventbus"
	"github.com/terraskye/pipeline/fixtures"
	"github.com/terraskye/pipeline/paging"
	"github.com/terraskye/pipeline/store"
	"github.com/terraskye/pipeline/store/memory"
	"github.com/terraskye/pipeline/store/sqlite"
	"github.com/terraskye/pipeline/uow"
	"github.com/terraskye/pipeline/validation"
)

// partialWrite is a command whose handler writes twice and then fails.
type partialWrite struct{ Fail bool }

type bump struct{ OrderID string }

func newModule(t *testing.T, opts ...fixtures.ModuleOption) (*fixtures.Module, *memory.Store, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	st := memory.New()
	m, err := fixtures.NewModule(st, append([]fixtures.ModuleOption{fixtures.WithLogger(logrus.NewEntry(logger))}, opts...)...)
	require.NoError(t, err)
	return m, st, hook
}

func place(t *testing.T, m *fixtures.Module, cmd fixtures.PlaceOrder) {
	t.Helper()
	_, err := pipeline.Send[pipeline.Empty](context.Background(), m.Dispatcher, cmd)
	require.NoError(t, err)
}

func TestPipeline_PlaceAndGet(t *testing.T) {
	m, _, hook := newModule(t)

	place(t, m, fixtures.NewPlaceOrder().WithID("o-1").Build())

	o, err := pipeline.Send[fixtures.Order](context.Background(), m.Dispatcher, fixtures.GetOrder{OrderID: "o-1"})
	require.NoError(t, err)
	assert.Equal(t, fixtures.StatusPending, o.Status)
	assert.Equal(t, uint64(1), o.Version)

	var dispatched []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.InfoLevel {
			dispatched = append(dispatched, e.Message)
		}
	}
	assert.Equal(t, []string{"Dispatch: fixtures.PlaceOrder", "Dispatch: fixtures.GetOrder"}, dispatched)
}

func TestPipeline_ValidationNeverReachesHandler(t *testing.T) {
	spy := fixtures.NewHandlerSpy[partialWrite, pipeline.Empty]()
	m, st, _ := newModule(t, fixtures.WithExtraHandlers(func(reg *pipeline.Registry) error {
		return pipeline.Register[partialWrite, pipeline.Empty](reg, pipeline.KindCommand, spy)
	}))
	validation.AddRules(m.Rules,
		func(partialWrite) []validation.Failure { return validation.Check(false, "a", "first") },
		func(partialWrite) []validation.Failure { return validation.Check(false, "b", "second") },
	)

	_, err := pipeline.Send[pipeline.Empty](context.Background(), m.Dispatcher, partialWrite{})

	var failed *validation.FailedError
	require.ErrorAs(t, err, &failed)
	assert.Len(t, failed.Failures, 2, "all failures are aggregated")
	assert.Equal(t, 0, spy.CallCount())

	_, err = pipeline.Send[pipeline.Empty](context.Background(), m.Dispatcher, fixtures.PlaceOrder{})
	require.ErrorIs(t, err, validation.ErrValidationFailed)
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, []validation.Failure{
		{Field: "orderId", Message: "is required"},
		{Field: "customer", Message: "is required"},
		{Field: "amount", Message: "must be greater than zero"},
	}, failed.Failures)
	assert.Equal(t, 0, st.Len(fixtures.OrdersCollection))
}

func TestPipeline_FailureRollsBackPartialWrites(t *testing.T) {
	spy := fixtures.NewSubscriberSpy()
	var repo *store.Repository[fixtures.Order]

	m, st, _ := newModule(t, fixtures.WithExtraHandlers(func(reg *pipeline.Registry) error {
		return pipeline.RegisterCommand(reg, func(ctx context.Context, cmd partialWrite) (pipeline.Empty, error) {
			if _, err := repo.Insert(ctx, "p-1", fixtures.Order{ID: "p-1"}); err != nil {
				return pipeline.Empty{}, err
			}
			if err := uow.Raise(ctx, fixtures.OrderPlaced{OrderID: "p-1"}); err != nil {
				return pipeline.Empty{}, err
			}
			if _, err := repo.Insert(ctx, "p-2", fixtures.Order{ID: "p-2"}); err != nil {
				return pipeline.Empty{}, err
			}
			if cmd.Fail {
				return pipeline.Empty{}, errors.New("payment gateway down")
			}
			return pipeline.Empty{}, nil
		})
	}))
	repo = m.Handlers.Orders
	require.NoError(t, m.Bus.SubscribeAll("spy", spy.Handle))

	_, err := pipeline.Send[pipeline.Empty](context.Background(), m.Dispatcher, partialWrite{Fail: true})
	assert.EqualError(t, err, "payment gateway down")
	assert.Equal(t, 0, st.Len(fixtures.OrdersCollection), "no partial write may survive")
	assert.Equal(t, 0, spy.CallCount(), "events of a failed unit are never delivered")
}

func TestPipeline_EventsDeliveredOnceAfterCommit(t *testing.T) {
	var failures []*eventbus.SubscriberFailure
	m, st, _ := newModule(t, fixtures.WithBusOptions(eventbus.WithFailureHook(
		func(_ context.Context, f *eventbus.SubscriberFailure) { failures = append(failures, f) },
	)))

	spy := fixtures.NewSubscriberSpy()
	spy.OnEvent = func(ctx context.Context, env eventbus.Envelope) error {
		placed := env.Event.(fixtures.OrderPlaced)
		rec, err := st.Get(ctx, fixtures.OrdersCollection, placed.OrderID)
		if err != nil {
			return fmt.Errorf("event delivered before commit: %w", err)
		}
		if rec.Version != 1 {
			return fmt.Errorf("unexpected version %d", rec.Version)
		}
		if uow.InTransaction(ctx) {
			return errors.New("subscriber runs inside the transaction")
		}
		return nil
	}
	require.NoError(t, m.Bus.SubscribeAll("spy", spy.Handle))

	place(t, m, fixtures.NewPlaceOrder().WithID("o-1").Build())

	assert.Empty(t, failures)
	assert.Equal(t, 1, spy.CallCount())
	assert.Equal(t, []string{"OrderPlaced"}, spy.EventTypes())
}

func TestPipeline_SubscriberFailureDoesNotFailCaller(t *testing.T) {
	var failures []*eventbus.SubscriberFailure
	m, st, _ := newModule(t, fixtures.WithBusOptions(eventbus.WithFailureHook(
		func(_ context.Context, f *eventbus.SubscriberFailure) { failures = append(failures, f) },
	)))
	healthy := fixtures.NewSubscriberSpy()
	require.NoError(t, eventbus.Subscribe(m.Bus, "mailer", func(context.Context, fixtures.OrderPlaced) error {
		return errors.New("smtp unavailable")
	}))
	require.NoError(t, m.Bus.SubscribeAll("audit", healthy.Handle))

	place(t, m, fixtures.NewPlaceOrder().WithID("o-1").Build())

	assert.Equal(t, 1, st.Len(fixtures.OrdersCollection))
	assert.Equal(t, 1, healthy.CallCount())
	require.Len(t, failures, 1)
	assert.Equal(t, "mailer", failures[0].Subscriber)
}

func TestPipeline_DomainRuleViolation(t *testing.T) {
	m, _, hook := newModule(t)
	ctx := context.Background()

	place(t, m, fixtures.NewPlaceOrder().WithID("o-1").Build())
	_, err := pipeline.Send[pipeline.Empty](ctx, m.Dispatcher, fixtures.CancelOrder{OrderID: "o-1", Reason: "changed mind"})
	require.NoError(t, err)

	hook.Reset()
	_, err = pipeline.Send[pipeline.Empty](ctx, m.Dispatcher, fixtures.PayOrder{OrderID: "o-1"})

	var violation *pipeline.DomainRuleViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "cancelled", violation.Current)
	assert.Equal(t, "paid", violation.Attempted)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	o, err := pipeline.Send[fixtures.Order](ctx, m.Dispatcher, fixtures.GetOrder{OrderID: "o-1"})
	require.NoError(t, err)
	assert.Equal(t, fixtures.StatusCancelled, o.Status)
}

func TestPipeline_DuplicatePlaceIsConflict(t *testing.T) {
	m, _, _ := newModule(t)
	place(t, m, fixtures.NewPlaceOrder().WithID("o-1").Build())

	_, err := pipeline.Send[pipeline.Empty](context.Background(), m.Dispatcher, fixtures.NewPlaceOrder().WithID("o-1").Build())
	assert.ErrorIs(t, err, pipeline.ErrPersistenceConflict)
}

func TestPipeline_NestedDispatch(t *testing.T) {
	register := func(d **pipeline.Dispatcher) fixtures.ModuleOption {
		return fixtures.WithExtraHandlers(func(reg *pipeline.Registry) error {
			return pipeline.RegisterCommand(reg, func(ctx context.Context, cmd bump) (pipeline.Empty, error) {
				_, err := pipeline.Send[pipeline.Empty](ctx, *d, fixtures.PayOrder{OrderID: cmd.OrderID})
				return pipeline.Empty{}, err
			})
		})
	}

	t.Run("rejected by default", func(t *testing.T) {
		var d *pipeline.Dispatcher
		m, _, _ := newModule(t, register(&d))
		d = m.Dispatcher
		place(t, m, fixtures.NewPlaceOrder().WithID("o-1").Build())

		_, err := pipeline.Send[pipeline.Empty](context.Background(), d, bump{OrderID: "o-1"})
		assert.ErrorIs(t, err, uow.ErrNestedTransaction)
	})

	t.Run("joined when configured", func(t *testing.T) {
		var d *pipeline.Dispatcher
		m, _, _ := newModule(t, register(&d), fixtures.WithCoordinatorOptions(uow.WithPolicy(uow.JoinAmbient)))
		d = m.Dispatcher
		spy := fixtures.NewSubscriberSpy()
		require.NoError(t, m.Bus.SubscribeAll("spy", spy.Handle))
		place(t, m, fixtures.NewPlaceOrder().WithID("o-1").Build())

		_, err := pipeline.Send[pipeline.Empty](context.Background(), d, bump{OrderID: "o-1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"OrderPlaced", "OrderPaid"}, spy.EventTypes())
	})
}

func TestPipeline_ListOrdersPaging(t *testing.T) {
	m, _, _ := newModule(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	m.Handlers.Now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Minute)
	}

	for n := 1; n <= 45; n++ {
		place(t, m, fixtures.NewPlaceOrder().WithID(fmt.Sprintf("o-%02d", n)).Build())
	}

	ctx := context.Background()
	page, err := pipeline.Send[paging.Page[fixtures.Order]](ctx, m.Dispatcher, fixtures.ListOrders{Page: 3, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, 45, page.TotalCount)
	assert.Equal(t, 3, page.TotalPages)
	assert.False(t, page.HasNextPage)
	assert.True(t, page.HasPreviousPage)
	require.Len(t, page.Items, 5)
	assert.Equal(t, "o-05", page.Items[0].ID, "newest first")
	assert.Equal(t, "o-01", page.Items[4].ID)

	beyond, err := pipeline.Send[paging.Page[fixtures.Order]](ctx, m.Dispatcher, fixtures.ListOrders{Page: 5, PageSize: 20})
	require.NoError(t, err)
	assert.Empty(t, beyond.Items)
	assert.NotNil(t, beyond.Items)
	assert.Equal(t, 45, beyond.TotalCount)

	for _, n := range []int{1 << 57, 1 << 62} {
		far, err := pipeline.Send[paging.Page[fixtures.Order]](ctx, m.Dispatcher, fixtures.ListOrders{Page: n, PageSize: 100})
		require.NoError(t, err)
		assert.NotNil(t, far.Items)
		assert.Empty(t, far.Items)
		assert.Equal(t, 45, far.TotalCount)
		assert.Equal(t, 1, far.TotalPages)
		assert.Equal(t, n, far.Page)
	}

	_, err = pipeline.Send[paging.Page[fixtures.Order]](ctx, m.Dispatcher, fixtures.ListOrders{Page: 0, PageSize: 20})
	assert.ErrorIs(t, err, validation.ErrValidationFailed)
}

func TestPipeline_CancelledBeforeCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var repo *store.Repository[fixtures.Order]
	m, st, _ := newModule(t, fixtures.WithExtraHandlers(func(reg *pipeline.Registry) error {
		return pipeline.RegisterCommand(reg, func(ctx context.Context, cmd partialWrite) (pipeline.Empty, error) {
			_, err := repo.Insert(ctx, "c-1", fixtures.Order{ID: "c-1"})
			cancel()
			return pipeline.Empty{}, err
		})
	}))
	repo = m.Handlers.Orders

	_, err := pipeline.Send[pipeline.Empty](ctx, m.Dispatcher, partialWrite{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, st.Len(fixtures.OrdersCollection))
}

func TestPipeline_SQLiteStore(t *testing.T) {
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "orders.db") + "?_busy_timeout=5000&_txlock=immediate")
	require.NoError(t, err)
	defer st.Close()

	m, err := fixtures.NewModule(st, fixtures.WithLogger(logrus.NewEntry(logrus.New())))
	require.NoError(t, err)
	spy := fixtures.NewSubscriberSpy()
	require.NoError(t, m.Bus.SubscribeAll("spy", spy.Handle))

	ctx := context.Background()
	place(t, m, fixtures.NewPlaceOrder().WithID("o-1").Build())
	_, err = pipeline.Send[pipeline.Empty](ctx, m.Dispatcher, fixtures.PayOrder{OrderID: "o-1"})
	require.NoError(t, err)
	_, err = pipeline.Send[pipeline.Empty](ctx, m.Dispatcher, fixtures.PayOrder{OrderID: "o-1"})
	require.ErrorIs(t, err, pipeline.ErrDomainRuleViolation)

	o, err := pipeline.Send[fixtures.Order](ctx, m.Dispatcher, fixtures.GetOrder{OrderID: "o-1"})
	require.NoError(t, err)
	assert.Equal(t, fixtures.StatusPaid, o.Status)
	assert.Equal(t, uint64(2), o.Version)
	assert.Equal(t, []string{"OrderPlaced", "OrderPaid"}, spy.EventTypes())
}
