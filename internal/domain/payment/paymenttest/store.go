// Package paymenttest provides an in-memory payment.Store for tests.
package paymenttest

import (
	"context"
	"sort"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
)

var _ payment.Store = (*Store)(nil)

// Enrollment is a (user, course) access grant.
type Enrollment struct {
	UserID   int64
	CourseID int64
}

type state struct {
	records     map[int64]payment.GatewayRecord
	payments    map[int64]payment.Payment
	orders      map[int64]payment.Order
	courses     map[int64]payment.Course
	enrollments map[Enrollment]struct{}
}

func (s *state) clone() *state {
	c := &state{
		records:     make(map[int64]payment.GatewayRecord, len(s.records)),
		payments:    make(map[int64]payment.Payment, len(s.payments)),
		orders:      make(map[int64]payment.Order, len(s.orders)),
		courses:     s.courses,
		enrollments: make(map[Enrollment]struct{}, len(s.enrollments)),
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k := range s.enrollments {
		c.enrollments[k] = struct{}{}
	}
	return c
}

// Store is a transactional in-memory payment.Store. WithTx works on a copy
// of the state and swaps it in only when the callback succeeds.
type Store struct {
	mu sync.Mutex
	st *state

	// FailUpdateOrder, when set, is returned by Writer.UpdateOrder.
	FailUpdateOrder error
	// FailUpdatePayment, when set, is returned by Writer.UpdatePayment for
	// the given payment id (0 means every payment).
	FailUpdatePayment   error
	FailUpdatePaymentID int64
	// ListErr, when set, is returned by ListGatewayRecords.
	ListErr error

	Commits   int
	Rollbacks int
}

// New returns an empty Store.
func New() *Store {
	return &Store{st: &state{
		records:     map[int64]payment.GatewayRecord{},
		payments:    map[int64]payment.Payment{},
		orders:      map[int64]payment.Order{},
		courses:     map[int64]payment.Course{},
		enrollments: map[Enrollment]struct{}{},
	}}
}

// AddRecord stores a gateway mirror record.
func (s *Store) AddRecord(r payment.GatewayRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.records[r.ID] = r
}

// AddPayment stores a payment.
func (s *Store) AddPayment(p payment.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.payments[p.ID] = p
}

// AddOrder stores an order.
func (s *Store) AddOrder(o payment.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.orders[o.ID] = o
}

// AddCourse stores a course.
func (s *Store) AddCourse(c payment.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.courses[c.ID] = c
}

// Enroll grants a user access to a course.
func (s *Store) Enroll(userID, courseID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.enrollments[Enrollment{UserID: userID, CourseID: courseID}] = struct{}{}
}

// Enrolled reports whether the grant exists.
func (s *Store) Enrolled(userID, courseID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.st.enrollments[Enrollment{UserID: userID, CourseID: courseID}]
	return ok
}

// Record returns the stored mirror record.
func (s *Store) Record(id int64) payment.GatewayRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.records[id]
}

// Payment returns the stored payment.
func (s *Store) Payment(id int64) payment.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.payments[id]
}

// Order returns the stored order.
func (s *Store) Order(id int64) payment.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.orders[id]
}

func (s *Store) GetGatewayRecord(_ context.Context, id int64) (*payment.GatewayRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.records[id]
	if !ok {
		return nil, payment.NotFound("gateway record", id)
	}
	return &r, nil
}

func (s *Store) ListGatewayRecords(_ context.Context, f payment.RecordFilter) ([]payment.GatewayRecord, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []payment.GatewayRecord
	for _, r := range s.st.records {
		if r.ID <= f.AfterID {
			continue
		}
		if f.CourseID != nil && (r.CourseID == nil || *r.CourseID != *f.CourseID) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) GetPaymentByKey(_ context.Context, key string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.st.payments {
		if p.PaymentKey == key && key != "" {
			return &p, nil
		}
	}
	return nil, payment.NotFound("payment", key)
}

func (s *Store) GetPayment(_ context.Context, id int64) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.payments[id]
	if !ok {
		return nil, payment.NotFound("payment", id)
	}
	return &p, nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (*payment.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return nil, payment.NotFound("order", id)
	}
	return &o, nil
}

func (s *Store) GetCourse(_ context.Context, id int64) (*payment.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.courses[id]
	if !ok {
		return nil, payment.NotFound("course", id)
	}
	return &c, nil
}

// ListPayments returns every stored payment ordered by id.
func (s *Store) ListPayments() []payment.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]payment.Payment, 0, len(s.st.payments))
	for _, p := range s.st.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) WithTx(ctx context.Context, fn func(w payment.Writer) error) error {
	s.mu.Lock()
	work := s.st.clone()
	s.mu.Unlock()

	if err := fn(&writer{s: s, st: work}); err != nil {
		s.mu.Lock()
		s.Rollbacks++
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = work
	s.Commits++
	return nil
}

type writer struct {
	s  *Store
	st *state
}

func (w *writer) UpdatePayment(_ context.Context, id int64, p payment.PaymentPatch) error {
	if w.s.FailUpdatePayment != nil && (w.s.FailUpdatePaymentID == 0 || w.s.FailUpdatePaymentID == id) {
		return w.s.FailUpdatePayment
	}
	cur, ok := w.st.payments[id]
	if !ok {
		return payment.NotFound("payment", id)
	}
	w.st.payments[id] = p.Apply(cur)
	return nil
}

func (w *writer) UpdateOrder(_ context.Context, id int64, p payment.OrderPatch) error {
	if w.s.FailUpdateOrder != nil {
		return w.s.FailUpdateOrder
	}
	cur, ok := w.st.orders[id]
	if !ok {
		return payment.NotFound("order", id)
	}
	if p.Status != nil {
		cur.Status = *p.Status
	}
	w.st.orders[id] = cur
	return nil
}

func (w *writer) UpdateGatewayRecord(_ context.Context, id int64, p payment.GatewayRecordPatch) error {
	cur, ok := w.st.records[id]
	if !ok {
		return payment.NotFound("gateway record", id)
	}
	w.st.records[id] = p.Apply(cur)
	return nil
}

func (w *writer) DeleteEnrollments(_ context.Context, userID int64, courseIDs []int64) (int64, error) {
	if len(courseIDs) == 0 {
		return 0, errors.New("no courses")
	}
	var n int64
	for _, c := range courseIDs {
		k := Enrollment{UserID: userID, CourseID: c}
		if _, ok := w.st.enrollments[k]; ok {
			delete(w.st.enrollments, k)
			n++
		}
	}
	return n, nil
}
