package stats

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
)

type mockSource struct {
	list []PaidPayment
	err  error
}

func (m *mockSource) ListCoursePayments(_ context.Context, _ int64) ([]PaidPayment, error) {
	return m.list, m.err
}

func courseItem(id, price int64) payment.OrderItem {
	return payment.OrderItem{ProductID: id, Category: payment.CategoryCourse, OriginalPrice: decimal.NewFromInt(price)}
}

func ebookItem(id, price int64) payment.OrderItem {
	return payment.OrderItem{ProductID: id, Category: payment.CategoryEbook, OriginalPrice: decimal.NewFromInt(price)}
}

func paid(amount int64, cancel *int64, items ...payment.OrderItem) PaidPayment {
	return PaidPayment{
		Payment: payment.Payment{Amount: amount, CancelAmount: cancel, Status: payment.StatusDone},
		Items:   items,
	}
}

func TestCourseSales(t *testing.T) {
	discounted := decimal.NewFromInt(3000)
	bundle := courseItem(1, 7000)
	ebook := ebookItem(1, 5000)
	ebook.DiscountedPrice = &discounted
	cancel := int64(5000)

	src := &mockSource{list: []PaidPayment{
		paid(10000, nil, bundle, ebook),
		paid(10000, &cancel, courseItem(1, 7000), courseItem(2, 3000)),
		paid(4000, nil, courseItem(1, 4000)),
	}}

	got, err := NewService(src, false, nil).CourseSales(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, &CourseSales{
		CourseID: 1,
		Payments: 3,
		Paid:     7000 + 7000 + 4000,
		Refunded: 3500,
		Net:      18000 - 3500,
	}, got)
}

func TestCourseSales_NetOfCancelSource(t *testing.T) {
	cancel := int64(8000)
	src := &mockSource{list: []PaidPayment{
		paid(2000, &cancel, courseItem(1, 5000), courseItem(2, 5000)),
	}}

	plain, err := NewService(src, false, nil).CourseSales(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), plain.Paid)

	net, err := NewService(src, true, nil).CourseSales(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), net.Paid)
	assert.Equal(t, int64(4000), net.Refunded)
	assert.Equal(t, int64(1000), net.Net)
}

func TestCourseSales_EbookWithSameIDIsSeparate(t *testing.T) {
	src := &mockSource{list: []PaidPayment{
		paid(9000, nil, courseItem(5, 6000), ebookItem(5, 3000)),
	}}
	got, err := NewService(src, false, nil).CourseSales(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), got.Paid)
}

func TestCourseSales_SourceError(t *testing.T) {
	_, err := NewService(&mockSource{err: errors.New("boom")}, false, nil).CourseSales(context.Background(), 1)
	require.Error(t, err)
}

type mockCache struct {
	entries map[int64]*CourseSales
	getErr  error
	sets    int
}

func (m *mockCache) GetSales(_ context.Context, id int64) (*CourseSales, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	s, ok := m.entries[id]
	return s, ok, nil
}

func (m *mockCache) SetSales(_ context.Context, s *CourseSales) error {
	if m.entries == nil {
		m.entries = map[int64]*CourseSales{}
	}
	m.entries[s.CourseID] = s
	m.sets++
	return nil
}

func TestCourseSales_Cache(t *testing.T) {
	src := &mockSource{list: []PaidPayment{paid(5000, nil, courseItem(1, 5000))}}
	cache := &mockCache{}
	svc := NewService(src, false, cache)

	first, err := svc.CourseSales(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	src.list = nil
	second, err := svc.CourseSales(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, first, second, "served from cache")
	assert.Equal(t, 1, cache.sets)
}

func TestCourseSales_CacheReadErrorComputes(t *testing.T) {
	src := &mockSource{list: []PaidPayment{paid(5000, nil, courseItem(1, 5000))}}
	svc := NewService(src, false, &mockCache{getErr: errors.New("redis down")})

	got, err := svc.CourseSales(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.Paid)
}
