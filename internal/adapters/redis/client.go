// Package redis implements the assignment store and event ledger on Redis.
//
// Key pattern: splitd:{namespace}:{entity}:{experiment_id}[:...]
//
// Assignments are JSON strings written with SETNX. Events go to a per
// experiment stream; a set per (experiment, kind) remembers which visitors
// were already counted and a hash holds the per-variant counters.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// Client is a namespaced go-redis client shared by the repositories.
// It is safe for concurrent use.
type Client struct {
	rdb       *goredis.Client
	namespace string
}

// NewClient connects lazily; call Ping to verify the server is reachable.
func NewClient(opts *goredis.Options, namespace string) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	return &Client{rdb: goredis.NewClient(opts), namespace: namespace}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) assignmentKey(experimentID, visitorID string) string {
	return fmt.Sprintf("splitd:%s:assignment:%s:%s", c.namespace, experimentID, visitorID)
}

func (c *Client) eventsKey(experimentID string) string {
	return fmt.Sprintf("splitd:%s:events:%s", c.namespace, experimentID)
}

func (c *Client) seenKey(experimentID, kind string) string {
	return fmt.Sprintf("splitd:%s:seen:%s:%s", c.namespace, experimentID, kind)
}

func (c *Client) countsKey(experimentID string) string {
	return fmt.Sprintf("splitd:%s:counts:%s", c.namespace, experimentID)
}
