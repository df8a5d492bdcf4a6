package dddgerman

import (
	"bytes"
	"context"
	"encoding/gob"
	"net/url"
	"time"

	"github.com/PuerkitoBio/purell"
	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// listing payloads change rarely, slide content may be edited by
// instructors mid-session, so it expires much faster
const (
	themeListLifetime = int64(time.Hour / time.Second)
	slideListLifetime = int64(time.Minute / time.Second)
)

var errRecordNotFound = badger.ErrKeyNotFound

// record is a cached raw response body for a listing endpoint.
type record struct {
	Payload   []byte
	ExpiresAt int64
}

// recordCache keeps short-lived copies of listing payloads so tree
// walks (progress, export) don't refetch the same endpoints. A nil db
// disables it entirely; submissions are never cached.
type recordCache struct {
	db      *badger.DB
	baseUrl *url.URL
}

func (c recordCache) key(userId, endpoint string) (string, error) {
	full, err := c.baseUrl.Parse(endpoint)
	if err != nil {
		return "", err
	}
	normalized := purell.NormalizeURL(
		full,
		purell.FlagsSafe|
			purell.FlagsUsuallySafeNonGreedy|
			purell.FlagRemoveDirectoryIndex|
			purell.FlagRemoveFragment|
			purell.FlagSortQuery,
	)
	return userId + ":" + normalized, nil
}

func (c recordCache) get(ctx context.Context, userId, endpoint string) ([]byte, error) {
	if c.db == nil {
		return nil, errRecordNotFound
	}

	ctx, span := tracer.Start(ctx, "cache:get")
	defer span.End()

	key, err := c.key(userId, endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create cache key")
		return nil, err
	}
	span.SetAttributes(attribute.String("cache_key", key))

	tx := c.db.NewTransaction(false)
	defer tx.Discard()
	item, err := tx.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return nil, errRecordNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read item from badger")
		return nil, err
	}
	serialized, err := item.ValueCopy(nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to copy cached item")
		return nil, err
	}

	var cached record
	err = gob.NewDecoder(bytes.NewBuffer(serialized)).Decode(&cached)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deserialize cached item")
		return nil, err
	}

	if time.Now().Unix() >= cached.ExpiresAt {
		tx := c.db.NewTransaction(true)
		defer tx.Commit()

		err = tx.Delete([]byte(key))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to delete expired key")
			return nil, errRecordNotFound
		}

		span.SetStatus(codes.Ok, "CACHE EXPIRED")
		return nil, errRecordNotFound
	}

	span.SetAttributes(attribute.Int("payload_length", len(cached.Payload)))
	return cached.Payload, nil
}

func (c recordCache) set(ctx context.Context, userId, endpoint string, payload []byte, lifetime int64) error {
	if c.db == nil {
		return nil
	}

	ctx, span := tracer.Start(ctx, "cache:set")
	defer span.End()

	key, err := c.key(userId, endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create cache key")
		return err
	}
	span.SetAttributes(attribute.String("cache_key", key))

	serialized := bytes.NewBuffer(nil)
	err = gob.NewEncoder(serialized).Encode(record{
		Payload:   payload,
		ExpiresAt: time.Now().Unix() + lifetime,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize record")
		return err
	}

	tx := c.db.NewTransaction(true)
	defer tx.Commit()

	err = tx.Set([]byte(key), serialized.Bytes())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set badger item")
		return err
	}

	return nil
}
