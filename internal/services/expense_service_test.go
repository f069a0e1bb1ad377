package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"spendlog/internal/core"
	"spendlog/internal/storage"
)

type recordingPublisher struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (p *recordingPublisher) PublishExpenseCreated(_ context.Context, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.ids = append(p.ids, id)
	return nil
}

func (p *recordingPublisher) published() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.ids...)
}

type ExpenseServiceTestSuite struct {
	suite.Suite
	repo      *storage.SQLiteRepository
	publisher *recordingPublisher
	svc       *ExpenseService
}

func (s *ExpenseServiceTestSuite) SetupTest() {
	repo, err := storage.NewSQLiteRepository(":memory:")
	s.Require().NoError(err)
	s.repo = repo
	s.publisher = &recordingPublisher{}
	s.svc = NewExpenseService(repo, s.publisher)
}

func (s *ExpenseServiceTestSuite) TearDownTest() {
	s.Require().NoError(s.repo.Close())
}

func input(key string) core.CreateExpenseInput {
	return core.CreateExpenseInput{
		Amount:         core.Money{Cents: 1250},
		Category:       "Food",
		Description:    "Lunch",
		Date:           mustDate("2024-01-15"),
		IdempotencyKey: key,
		HasKey:         key != "",
	}
}

func mustDate(s string) core.Date {
	d, err := core.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (s *ExpenseServiceTestSuite) TestFreshCreate() {
	ctx := context.Background()

	created, replay, err := s.svc.Create(ctx, input("abc"))
	s.Require().NoError(err)
	s.False(replay)
	s.NotZero(created.ID)
	s.Equal([]int64{created.ID}, s.publisher.published())
}

func (s *ExpenseServiceTestSuite) TestReplayReturnsOriginal() {
	ctx := context.Background()

	first, replay, err := s.svc.Create(ctx, input("abc"))
	s.Require().NoError(err)
	s.False(replay)

	second, replay, err := s.svc.Create(ctx, input("abc"))
	s.Require().NoError(err)
	s.True(replay)
	s.Equal(first.ID, second.ID)

	// Only the fresh create publishes.
	s.Equal([]int64{first.ID}, s.publisher.published())

	list, err := s.svc.List(ctx, "", core.SortDateDesc)
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *ExpenseServiceTestSuite) TestKeylessCreatesAreIndependent() {
	ctx := context.Background()

	a, replay, err := s.svc.Create(ctx, input(""))
	s.Require().NoError(err)
	s.False(replay)

	b, replay, err := s.svc.Create(ctx, input(""))
	s.Require().NoError(err)
	s.False(replay)
	s.NotEqual(a.ID, b.ID)
}

func (s *ExpenseServiceTestSuite) TestValidationRejectsBeforeStorage() {
	ctx := context.Background()

	in := input("abc")
	in.Amount = core.Money{Cents: -5}
	in.Category = "Groceries"

	_, _, err := s.svc.Create(ctx, in)

	var verr *core.ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Len(verr.Violations, 2)
	s.Empty(s.publisher.published())

	list, err := s.svc.List(ctx, "", core.SortDateDesc)
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *ExpenseServiceTestSuite) TestConcurrentSameKeySingleRecord() {
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var fresh int
	errs := make([]error, 0, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, replay, err := s.svc.Create(ctx, input("race-key"))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if !replay {
				fresh++
			}
		}()
	}
	wg.Wait()

	s.Empty(errs)
	s.Equal(1, fresh)

	list, err := s.svc.List(ctx, "", core.SortDateDesc)
	s.Require().NoError(err)
	s.Len(list, 1)
	s.Len(s.publisher.published(), 1)
}

func (s *ExpenseServiceTestSuite) TestPublishFailureDoesNotFailCreate() {
	ctx := context.Background()
	s.publisher.err = errors.New("broker down")

	created, replay, err := s.svc.Create(ctx, input("abc"))
	s.Require().NoError(err)
	s.False(replay)
	s.NotZero(created.ID)
}

func TestExpenseServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ExpenseServiceTestSuite))
}

func TestCreateWithoutPublisher(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	defer repo.Close()

	svc := NewExpenseService(repo, nil)
	_, replay, err := svc.Create(context.Background(), input("no-publisher"))
	require.NoError(t, err)
	require.False(t, replay)
}
