// Package redisstate is an alternate Workflow State cache backend (§3.10's
// [DOMAIN] addition) for deployments that run more than one process against
// the same workflow execution and need the node-output cache shared rather
// than per-process in-memory. It implements the same has_output
// empty-string-vs-missing-key contract as state.Cache, backed by a Redis
// hash per (session_id, workflow_id).
package redisstate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// fieldValue is the JSON-encoded hash field value. A cached empty string is
// stored as {"content":""}, so a field that exists always holds a non-empty
// value; a node with no cached output has no field at all (HExists false,
// HGet redis.Nil).
type fieldValue struct {
	Content string `json:"content"`
}

// Cache is a Redis-backed Workflow State cache for one (sessionID,
// workflowID) pair.
type Cache struct {
	rdb        *redis.Client
	sessionID  string
	workflowID string
}

// New builds a Cache over rdb, scoped to one workflow execution.
func New(rdb *redis.Client, sessionID, workflowID string) *Cache {
	return &Cache{rdb: rdb, sessionID: sessionID, workflowID: workflowID}
}

func (c *Cache) key() string {
	return fmt.Sprintf("agentrun:workflow-state:%s:%s", c.sessionID, c.workflowID)
}

func fieldFor(nodeID string, iteration *int) string {
	if iteration == nil {
		return nodeID
	}
	return fmt.Sprintf("%s#%d", nodeID, *iteration)
}

// HasOutput reports whether nodeID (optionally at iteration) has a cached
// output, even when that output is the empty string — the same invariant
// state.Cache.HasOutput honors.
func (c *Cache) HasOutput(ctx context.Context, nodeID string, iteration *int) (bool, error) {
	n, err := c.rdb.HExists(ctx, c.key(), fieldFor(nodeID, iteration)).Result()
	if err != nil {
		return false, err
	}
	return n, nil
}

// GetOutput returns the cached output for nodeID (optionally at
// iteration), and whether it was present.
func (c *Cache) GetOutput(ctx context.Context, nodeID string, iteration *int) (string, bool, error) {
	raw, err := c.rdb.HGet(ctx, c.key(), fieldFor(nodeID, iteration)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var fv fieldValue
	if err := json.Unmarshal([]byte(raw), &fv); err != nil {
		return "", false, err
	}
	return fv.Content, true, nil
}

// SetOutput caches content for nodeID (optionally at iteration).
func (c *Cache) SetOutput(ctx context.Context, nodeID, content string, iteration *int) error {
	raw, err := json.Marshal(fieldValue{Content: content})
	if err != nil {
		return err
	}
	return c.rdb.HSet(ctx, c.key(), fieldFor(nodeID, iteration), raw).Err()
}
