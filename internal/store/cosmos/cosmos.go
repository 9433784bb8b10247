// Package cosmos is the durable store backend on Azure Cosmos DB.
//
// Every collection lives in its own container partitioned on /userId, so the
// owner id is the partition key of every document. Listing an owner's records
// is a single-partition query; reads, replaces and deletes are point
// operations addressed by (id, owner).
package cosmos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"

	"budgettracker/internal/core"
	"budgettracker/internal/store"
)

// PartitionKeyPath is the container partition key path every collection must use.
const PartitionKeyPath = "/userId"

// Config holds the connection settings for a Cosmos account.
type Config struct {
	Endpoint   string
	Key        string
	Database   string
	MaxRetries int
}

func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	if strings.TrimSpace(c.Key) == "" {
		missing = append(missing, "key")
	}
	if strings.TrimSpace(c.Database) == "" {
		missing = append(missing, "database")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: cosmos %s not configured", core.ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// Client is a connected Cosmos account scoped to one database.
type Client struct {
	client   *azcosmos.Client
	database string
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cred, err := azcosmos.NewKeyCredential(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: cosmos key: %v", core.ErrConfiguration, err)
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	client, err := azcosmos.NewClientWithKey(cfg.Endpoint, cred, &azcosmos.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries: int32(retries),
				TryTimeout: 10 * time.Second,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: cosmos client: %v", core.ErrConfiguration, err)
	}
	return &Client{client: client, database: cfg.Database}, nil
}

// Options tune a single collection.
type Options struct {
	// OrderBy is appended to the owner query, e.g. "c.date DESC".
	OrderBy string
	// Timeout bounds each operation. Zero leaves the caller's deadline alone.
	Timeout time.Duration
}

// Store is a Cosmos container holding records of type T.
type Store[T core.Record] struct {
	coll    collection
	name    string
	orderBy string
	timeout time.Duration
}

var (
	_ store.Store[core.Expense]   = (*Store[core.Expense])(nil)
	_ store.Modifier[core.Budget] = (*Store[core.Budget])(nil)
)

// NewStore binds a store to containerName in the client's database.
func NewStore[T core.Record](c *Client, containerName string, opts Options) (*Store[T], error) {
	if strings.TrimSpace(containerName) == "" {
		return nil, fmt.Errorf("%w: cosmos container name is empty", core.ErrConfiguration)
	}
	container, err := c.client.NewContainer(c.database, containerName)
	if err != nil {
		return nil, fmt.Errorf("%w: cosmos container %s: %v", core.ErrConfiguration, containerName, err)
	}
	return newStore[T](containerCollection{client: container}, containerName, opts), nil
}

func newStore[T core.Record](coll collection, name string, opts Options) *Store[T] {
	return &Store[T]{coll: coll, name: name, orderBy: opts.OrderBy, timeout: opts.Timeout}
}

func (s *Store[T]) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store[T]) ListByOwner(ctx context.Context, ownerID string) ([]T, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := "SELECT * FROM c WHERE c.userId = @userId"
	if s.orderBy != "" {
		query += " ORDER BY " + s.orderBy
	}
	docs, err := s.coll.Query(ctx, ownerID, query, []azcosmos.QueryParameter{{Name: "@userId", Value: ownerID}})
	if err != nil {
		return nil, s.classify("list", err)
	}

	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		rec, err := decode[T](doc)
		if err != nil {
			return nil, fmt.Errorf("cosmos %s list: %w", s.name, err)
		}
		out = append(out, rec)
	}
	slog.DebugContext(ctx, "Cosmos owner query completed", "container", s.name, "count", len(out))
	return out, nil
}

func (s *Store[T]) GetByID(ctx context.Context, id, ownerID string) (T, bool, error) {
	var zero T
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc, err := s.coll.Read(ctx, ownerID, id)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return zero, false, nil
		}
		return zero, false, s.classify("read", err)
	}
	rec, err := decode[T](doc)
	if err != nil {
		return zero, false, fmt.Errorf("cosmos %s read: %w", s.name, err)
	}
	// A document in the owner's partition always carries that owner; checked
	// anyway so a malformed document can never cross owners.
	if rec.RecordOwner() != ownerID {
		return zero, false, nil
	}
	return rec, true, nil
}

// Create inserts into the owner's partition. Cosmos enforces id uniqueness
// per partition, so the conflict check is scoped to the owner.
func (s *Store[T]) Create(ctx context.Context, record T) (T, error) {
	var zero T
	if err := core.CheckRecord(record); err != nil {
		return zero, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc, err := json.Marshal(record)
	if err != nil {
		return zero, fmt.Errorf("cosmos %s create: encode: %w", s.name, err)
	}
	stored, err := s.coll.Create(ctx, record.RecordOwner(), doc)
	if err != nil {
		if statusOf(err) == http.StatusConflict {
			return zero, fmt.Errorf("%w: id %s", core.ErrConflict, record.RecordID())
		}
		return zero, s.classify("create", err)
	}
	if len(stored) == 0 {
		return record, nil
	}
	out, err := decode[T](stored)
	if err != nil {
		return zero, fmt.Errorf("cosmos %s create: %w", s.name, err)
	}
	return out, nil
}

// Update replaces the document at (id, record owner). Replace never creates,
// so an id missing from the owner's partition is reported as core.ErrNotFound.
func (s *Store[T]) Update(ctx context.Context, id string, record T) error {
	if err := store.CheckUpdate(id, record); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("cosmos %s update: encode: %w", s.name, err)
	}
	if err := s.coll.Replace(ctx, record.RecordOwner(), id, doc); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return fmt.Errorf("%w: id %s", core.ErrNotFound, id)
		}
		return s.classify("update", err)
	}
	return nil
}

// Modify replaces the document only while its ETag matches the one read; a
// 412 means another write got there first and the read is repeated.
func (s *Store[T]) Modify(ctx context.Context, id, ownerID string, fn func(current T) (T, bool)) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for attempt := 0; attempt < store.MaxModifyAttempts; attempt++ {
		doc, etag, err := s.coll.ReadVersioned(ctx, ownerID, id)
		if err != nil {
			if statusOf(err) == http.StatusNotFound {
				return false, fmt.Errorf("%w: id %s", core.ErrNotFound, id)
			}
			return false, s.classify("modify", err)
		}
		current, err := decode[T](doc)
		if err != nil {
			return false, fmt.Errorf("cosmos %s modify: %w", s.name, err)
		}
		if current.RecordOwner() != ownerID {
			return false, fmt.Errorf("%w: id %s", core.ErrNotFound, id)
		}

		next, write := fn(current)
		if !write {
			return false, nil
		}
		if err := store.CheckModified(id, ownerID, next); err != nil {
			return false, err
		}
		body, err := json.Marshal(next)
		if err != nil {
			return false, fmt.Errorf("cosmos %s modify: encode: %w", s.name, err)
		}

		err = s.coll.ReplaceIfMatch(ctx, ownerID, id, body, etag)
		switch {
		case err == nil:
			return true, nil
		case statusOf(err) == http.StatusPreconditionFailed:
			slog.DebugContext(ctx, "Cosmos document changed during modify, retrying",
				"container", s.name, "record_id", id, "attempt", attempt+1)
		case statusOf(err) == http.StatusNotFound:
			return false, fmt.Errorf("%w: id %s", core.ErrNotFound, id)
		default:
			return false, s.classify("modify", err)
		}
	}
	return false, fmt.Errorf("%w: id %s kept changing during modify", core.ErrConflict, id)
}

func (s *Store[T]) Delete(ctx context.Context, id, ownerID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.coll.Delete(ctx, ownerID, id); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil
		}
		return s.classify("delete", err)
	}
	return nil
}

func decode[T any](doc []byte) (T, error) {
	var rec T
	if err := json.Unmarshal(doc, &rec); err != nil {
		return rec, fmt.Errorf("decode document: %w", err)
	}
	return rec, nil
}

func statusOf(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// classify marks transport failures and retryable statuses as
// core.ErrBackendUnavailable; everything else propagates wrapped.
func (s *Store[T]) classify(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("cosmos %s %s: %w: %w", s.name, op, core.ErrBackendUnavailable, err)
	}
	return fmt.Errorf("cosmos %s %s: %w", s.name, op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	switch statusOf(err) {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
