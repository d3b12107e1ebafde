package assignment

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/entity"
	"github.com/Additional-Code/packline/pkg/errorbank"
)

type fakeStore struct {
	ids      []int64
	locked   bool
	assigned map[int64]*int64
	listErr  error
}

func newFakeStore(ids ...int64) *fakeStore {
	return &fakeStore{ids: ids, assigned: make(map[int64]*int64)}
}

func (f *fakeStore) ListIDsByShipmentDate(ctx context.Context, date time.Time) ([]int64, error) {
	return f.ids, f.listErr
}

func (f *fakeStore) ListByShipmentDate(ctx context.Context, date time.Time) ([]*entity.Posting, error) {
	var out []*entity.Posting
	for _, id := range f.ids {
		out = append(out, &entity.Posting{ID: id, AssignedUserID: f.assigned[id]})
	}
	return out, nil
}

func (f *fakeStore) AssignWorker(ctx context.Context, ids []int64, userID *int64) error {
	for _, id := range ids {
		f.assigned[id] = userID
	}
	return nil
}

func (f *fakeStore) LockShipmentDate(ctx context.Context, date time.Time) error {
	f.locked = true
	return nil
}

func (f *fakeStore) IsLocked(ctx context.Context, date time.Time) (bool, error) {
	return f.locked, nil
}

func newTestService(store *fakeStore) *Service {
	return NewService(Params{Postings: store, Logger: zap.NewNop()})
}

func TestEqualSplitDistributesRemainderToFirstWorkers(t *testing.T) {
	got := EqualSplit(10, []int64{1, 2, 3})

	want := []Assignment{{UserID: 1, Count: 4}, {UserID: 2, Count: 3}, {UserID: 3, Count: 3}}
	if len(got) != len(want) {
		t.Fatalf("expected %d assignments, got %d", len(want), len(got))
	}
	sum := 0
	for i, a := range got {
		if a != want[i] {
			t.Fatalf("assignment %d: expected %+v, got %+v", i, want[i], a)
		}
		sum += a.Count
	}
	if sum != 10 {
		t.Fatalf("expected counts to sum to 10, got %d", sum)
	}
}

func TestEqualSplitFewerOrdersThanWorkers(t *testing.T) {
	got := EqualSplit(2, []int64{1, 2, 3})

	counts := []int{got[0].Count, got[1].Count, got[2].Count}
	if counts[0] != 1 || counts[1] != 1 || counts[2] != 0 {
		t.Fatalf("expected [1 1 0], got %v", counts)
	}
}

func TestApplySlicesInStableOrderAndClearsRemainder(t *testing.T) {
	store := newFakeStore(10, 11, 12, 13, 14)
	three := int64(3)
	store.assigned[14] = &three // stale assignment from a previous round

	svc := newTestService(store)
	result, err := svc.Apply(context.Background(), time.Now(), []Assignment{
		{UserID: 1, Count: 2},
		{UserID: 2, Count: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Assigned != 4 || result.Cleared != 1 {
		t.Fatalf("expected 4 assigned and 1 cleared, got %+v", result)
	}

	for _, tc := range []struct {
		id   int64
		want int64
	}{{10, 1}, {11, 1}, {12, 2}, {13, 2}} {
		got := store.assigned[tc.id]
		if got == nil || *got != tc.want {
			t.Fatalf("posting %d: expected worker %d, got %v", tc.id, tc.want, got)
		}
	}
	if store.assigned[14] != nil {
		t.Fatalf("expected remainder posting 14 cleared, got %v", *store.assigned[14])
	}
}

func TestApplyRejectsDuplicateWorker(t *testing.T) {
	svc := newTestService(newFakeStore(1, 2, 3))

	_, err := svc.Apply(context.Background(), time.Now(), []Assignment{
		{UserID: 7, Count: 1},
		{UserID: 7, Count: 1},
	})
	if !errorbank.IsKind(err, errorbank.KindBadRequest) {
		t.Fatalf("expected bad_request, got %v", err)
	}
}

func TestApplyRejectsExcessWithDetail(t *testing.T) {
	svc := newTestService(newFakeStore(1, 2, 3))

	_, err := svc.Apply(context.Background(), time.Now(), []Assignment{
		{UserID: 1, Count: 5},
	})
	if !errorbank.IsKind(err, errorbank.KindUnprocessableEntity) {
		t.Fatalf("expected unprocessable_entity, got %v", err)
	}
	details := errorbank.From(err).Details()
	if details["excess"] != 2 {
		t.Fatalf("expected excess detail 2, got %v", details["excess"])
	}
}

func TestApplyRejectsLockedDate(t *testing.T) {
	store := newFakeStore(1, 2)
	store.locked = true
	svc := newTestService(store)

	_, err := svc.Apply(context.Background(), time.Now(), []Assignment{{UserID: 1, Count: 1}})
	if !errorbank.IsKind(err, errorbank.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestApplyEmptyBatchIsNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, err := svc.Apply(context.Background(), time.Now(), []Assignment{{UserID: 1, Count: 1}})
	if !errorbank.IsKind(err, errorbank.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestApplyEqualCoversWholeBatch(t *testing.T) {
	store := newFakeStore(1, 2, 3, 4, 5)
	svc := newTestService(store)

	result, err := svc.ApplyEqual(context.Background(), time.Now(), []int64{1, 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Assigned != 5 || result.Cleared != 0 {
		t.Fatalf("expected all 5 assigned, got %+v", result)
	}
}
