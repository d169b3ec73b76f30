// Package rediscache keeps per-tenant course data in Redis: the course view
// entries read by the storefront and the back office's own sales figures.
package rediscache

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/edu-backoffice/internal/domain/reconcile"
	"github.com/xenking/edu-backoffice/internal/domain/refund"
	"github.com/xenking/edu-backoffice/internal/domain/stats"
)

var (
	_ refund.CacheInvalidator    = (*CourseCache)(nil)
	_ reconcile.CacheInvalidator = (*CourseCache)(nil)
	_ stats.Cache                = (*CourseCache)(nil)
)

// NewClient connects to Redis at url ("redis://host:6379/0") and pings it.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return c, nil
}

// CourseCache is one tenant's view of the shared Redis.
type CourseCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New returns a cache whose keys are namespaced by tenant.
func New(client *redis.Client, tenant string, ttl time.Duration) *CourseCache {
	return &CourseCache{client: client, prefix: tenant + ":", ttl: ttl}
}

func (c *CourseCache) courseKey(id int64) string {
	return c.prefix + "course:" + strconv.FormatInt(id, 10)
}

func (c *CourseCache) salesKey(id int64) string {
	return c.prefix + "sales:" + strconv.FormatInt(id, 10)
}

// InvalidateCourses drops the view and sales entries of every course.
func (c *CourseCache) InvalidateCourses(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		keys = append(keys, c.courseKey(id), c.salesKey(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "delete course keys")
	}
	return nil
}

// GetSales returns the cached figures for a course.
func (c *CourseCache) GetSales(ctx context.Context, courseID int64) (*stats.CourseSales, bool, error) {
	data, err := c.client.Get(ctx, c.salesKey(courseID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "get sales")
	}
	s, err := decodeSales(data)
	if err != nil {
		return nil, false, errors.Wrap(err, "decode sales")
	}
	return s, true, nil
}

// SetSales stores figures until the TTL expires or a refund invalidates them.
func (c *CourseCache) SetSales(ctx context.Context, s *stats.CourseSales) error {
	if err := c.client.Set(ctx, c.salesKey(s.CourseID), encodeSales(s), c.ttl).Err(); err != nil {
		return errors.Wrap(err, "set sales")
	}
	return nil
}

// Ping checks connectivity.
func (c *CourseCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func encodeSales(s *stats.CourseSales) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("courseId")
	e.Int64(s.CourseID)
	e.FieldStart("payments")
	e.Int(s.Payments)
	e.FieldStart("paid")
	e.Int64(s.Paid)
	e.FieldStart("refunded")
	e.Int64(s.Refunded)
	e.FieldStart("net")
	e.Int64(s.Net)
	e.ObjEnd()
	return e.Bytes()
}

func decodeSales(data []byte) (*stats.CourseSales, error) {
	var s stats.CourseSales
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "courseId":
			s.CourseID, err = d.Int64()
		case "payments":
			s.Payments, err = d.Int()
		case "paid":
			s.Paid, err = d.Int64()
		case "refunded":
			s.Refunded, err = d.Int64()
		case "net":
			s.Net, err = d.Int64()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}
