package products

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu    sync.Mutex
	seq   int64
	items map[int64]Product
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]Product)}
}

func (r *memoryRepo) List(ctx context.Context, filter Filter) ([]Product, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Product
	for _, p := range r.items {
		if filter.ActiveOnly && !p.Active {
			continue
		}
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(p.SKU), needle) && !strings.Contains(strings.ToLower(p.Name), needle) {
				continue
			}
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].SKU < matched[j].SKU })
	total := len(matched)
	if filter.Limit > 0 {
		start := (filter.Page - 1) * filter.Limit
		if start < 0 {
			start = 0
		}
		if start > len(matched) {
			start = len(matched)
		}
		end := start + filter.Limit
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (r *memoryRepo) Create(ctx context.Context, product Product) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.SKU == product.SKU {
			return Product{}, ErrSKUTaken
		}
	}
	r.seq++
	product.ID = r.seq
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	r.items[product.ID] = product
	return product, nil
}

func (r *memoryRepo) Update(ctx context.Context, id int64, product Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	for otherID, existing := range r.items {
		if otherID != id && existing.SKU == product.SKU {
			return ErrSKUTaken
		}
	}
	current.SKU = product.SKU
	current.Name = product.Name
	current.UpdatedAt = time.Now().UTC()
	r.items[id] = current
	return nil
}

func (r *memoryRepo) SetActive(ctx context.Context, id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	current.Active = active
	current.UpdatedAt = time.Now().UTC()
	r.items[id] = current
	return nil
}

func (r *memoryRepo) ListActiveIDs(ctx context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for id, p := range r.items {
		if p.Active {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func TestCreateNormalizesSKU(t *testing.T) {
	svc := NewService(newMemoryRepo())

	created, err := svc.Create(t.Context(), Product{SKU: "  pg-330ml ", Name: " Premium Water 330ml "})
	require.NoError(t, err)
	require.Equal(t, "PG-330ML", created.SKU)
	require.Equal(t, "Premium Water 330ml", created.Name)
	require.True(t, created.Active)
	require.NotZero(t, created.ID)
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.Create(t.Context(), Product{SKU: "", Name: "Water"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(t.Context(), Product{SKU: "PG-1", Name: strings.Repeat("x", maxNameLength+1)})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateDuplicateSKU(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.Create(t.Context(), Product{SKU: "PG-330", Name: "Water 330ml"})
	require.NoError(t, err)
	_, err = svc.Create(t.Context(), Product{SKU: "pg-330", Name: "Water 330ml again"})
	require.ErrorIs(t, err, ErrSKUTaken)
}

func TestUpdateProduct(t *testing.T) {
	svc := NewService(newMemoryRepo())
	created, err := svc.Create(t.Context(), Product{SKU: "PG-500", Name: "Water 500ml"})
	require.NoError(t, err)

	require.NoError(t, svc.Update(t.Context(), created.ID, Product{SKU: "PG-500", Name: "Water 500ml Promo"}))
	got, err := svc.Get(t.Context(), created.ID)
	require.NoError(t, err)
	require.Equal(t, "Water 500ml Promo", got.Name)

	err = svc.Update(t.Context(), 999, Product{SKU: "PG-999", Name: "Ghost"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeactivateRemovesFromActiveIDs(t *testing.T) {
	svc := NewService(newMemoryRepo())
	first, err := svc.Create(t.Context(), Product{SKU: "PG-A", Name: "A"})
	require.NoError(t, err)
	second, err := svc.Create(t.Context(), Product{SKU: "PG-B", Name: "B"})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(t.Context(), first.ID))
	ids, err := svc.ListActiveIDs(t.Context())
	require.NoError(t, err)
	require.Equal(t, []int64{second.ID}, ids)

	require.NoError(t, svc.Activate(t.Context(), first.ID))
	ids, err = svc.ListActiveIDs(t.Context())
	require.NoError(t, err)
	require.Equal(t, []int64{first.ID, second.ID}, ids)
}

func TestGetRejectsBadID(t *testing.T) {
	svc := NewService(newMemoryRepo())
	_, err := svc.Get(t.Context(), 0)
	require.ErrorIs(t, err, ErrValidation)
}
