package redis

import (
	"context"
	"time"
)

// Reserve claims key for a request that is about to run, storing marker
// with a short lease. When someone else holds the key it returns their
// value and reserved=false; an empty value with reserved=false means the
// key changed hands between the two round trips.
func (c *Client) Reserve(ctx context.Context, key, marker string, lease time.Duration) (string, bool, error) {
	ok, err := c.SetNX(ctx, key, marker, lease)
	if err != nil || ok {
		return "", ok, err
	}
	held, found, err := c.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !found {
		// The previous holder expired or released in between.
		ok, err = c.SetNX(ctx, key, marker, lease)
		return "", ok, err
	}
	return held, false, nil
}

// Complete replaces the reservation with the finished response record.
func (c *Client) Complete(ctx context.Context, key, record string, ttl time.Duration) error {
	return c.Set(ctx, key, record, ttl)
}

// Release drops a reservation that is still ours so the client may retry.
func (c *Client) Release(ctx context.Context, key, marker string) error {
	_, err := c.CompareAndDelete(ctx, key, marker)
	return err
}
