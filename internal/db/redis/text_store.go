package redisdb

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"docsearch/internal/domain/rag"
	applog "docsearch/internal/platform/log"
)

const (
	defaultKeyPrefix         = "docsearch:"
	defaultCompressThreshold = 32 * 1024
	defaultMaxSingleValue    = 512 * 1024

	markerGzip  = "gzip:"
	markerPlain = "text:"

	metaSuffix  = ":meta"
	pieceSuffix = ":chunk:"
)

// NewClient parses a redis:// or rediss:// URL into a client. It does not
// dial; callers Ping to find out whether the server is there.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// TextStoreConfig tunes how values are laid out in Redis.
type TextStoreConfig struct {
	// KeyPrefix is prepended to every key. Default "docsearch:".
	KeyPrefix string
	// CompressThreshold is the size in bytes from which values are gzipped.
	// 0 means the default of 32KB, negative disables compression.
	CompressThreshold int
	// MaxSingleValue is the largest payload stored under one key. Larger
	// payloads are split into pieces with a meta record.
	MaxSingleValue int
}

// TextStore is the Redis text cache backend.
//
// Small values live under a single key, prefixed with a marker saying
// whether the bytes are gzipped. Payloads over MaxSingleValue are split into
// <key>:chunk:<n> pieces described by <key>:meta. All keys of one value
// share its TTL and are written in one transaction.
type TextStore struct {
	client *redis.Client
	cfg    TextStoreConfig
}

var _ rag.CacheBackend = (*TextStore)(nil)

type pieceMeta struct {
	Pieces int `json:"pieces"`
	Bytes  int `json:"bytes"`
}

func NewTextStore(client *redis.Client, cfg TextStoreConfig) *TextStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.CompressThreshold == 0 {
		cfg.CompressThreshold = defaultCompressThreshold
	}
	if cfg.MaxSingleValue <= 0 {
		cfg.MaxSingleValue = defaultMaxSingleValue
	}
	return &TextStore{client: client, cfg: cfg}
}

// ── Write ──

func (s *TextStore) Put(ctx context.Context, key rag.CacheKey, value string, ttl time.Duration) error {
	payload, err := s.encode(value)
	if err != nil {
		return err
	}

	k := s.key(key)
	oldPieces, err := s.pieceCount(ctx, k)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(payload) <= s.cfg.MaxSingleValue {
			pipe.Set(ctx, k, payload, ttl)
			pipe.Del(ctx, k+metaSuffix)
			for i := 0; i < oldPieces; i++ {
				pipe.Del(ctx, pieceKey(k, i))
			}
			return nil
		}

		pieces := 0
		for start := 0; start < len(payload); start += s.cfg.MaxSingleValue {
			end := min(start+s.cfg.MaxSingleValue, len(payload))
			pipe.Set(ctx, pieceKey(k, pieces), payload[start:end], ttl)
			pieces++
		}
		meta, _ := json.Marshal(pieceMeta{Pieces: pieces, Bytes: len(payload)})
		pipe.Set(ctx, k+metaSuffix, meta, ttl)
		pipe.Del(ctx, k)
		for i := pieces; i < oldPieces; i++ {
			pipe.Del(ctx, pieceKey(k, i))
		}
		return nil
	})
	if err != nil {
		applog.Error("[Cache/Redis] Failed to store text", "key", k, "error", err)
		return unavailable("put", k, err)
	}

	applog.Debug("[Cache/Redis] Stored text", "key", k, "bytes", len(value), "stored", len(payload))
	return nil
}

// ── Read ──

func (s *TextStore) Get(ctx context.Context, key rag.CacheKey) (string, error) {
	k := s.key(key)

	raw, err := s.client.Get(ctx, k).Bytes()
	switch {
	case err == nil:
		return s.decode(k, raw)
	case !errors.Is(err, redis.Nil):
		return "", unavailable("get", k, err)
	}

	meta, err := s.meta(ctx, k)
	if err != nil {
		return "", err
	}

	keys := make([]string, meta.Pieces)
	for i := range keys {
		keys[i] = pieceKey(k, i)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return "", unavailable("mget", k, err)
	}

	var buf bytes.Buffer
	buf.Grow(meta.Bytes)
	for _, v := range vals {
		piece, ok := v.(string)
		if !ok {
			// A piece expired or was evicted independently.
			return "", rag.ErrCacheMiss
		}
		buf.WriteString(piece)
	}
	return s.decode(k, buf.Bytes())
}

func (s *TextStore) Delete(ctx context.Context, key rag.CacheKey) error {
	k := s.key(key)
	pieces, err := s.pieceCount(ctx, k)
	if err != nil {
		return err
	}

	keys := []string{k, k + metaSuffix}
	for i := 0; i < pieces; i++ {
		keys = append(keys, pieceKey(k, i))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return unavailable("del", k, err)
	}
	return nil
}

func (s *TextStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %v", rag.ErrBackendUnavailable, err)
	}
	return nil
}

// ── Encoding ──

func (s *TextStore) encode(value string) ([]byte, error) {
	if s.cfg.CompressThreshold < 0 || len(value) < s.cfg.CompressThreshold {
		return append([]byte(markerPlain), value...), nil
	}

	var buf bytes.Buffer
	buf.WriteString(markerGzip)
	zw, err := gzip.NewWriterLevel(&buf, 6)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(zw, value); err != nil {
		return nil, fmt.Errorf("gzip text: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip text: %w", err)
	}
	return buf.Bytes(), nil
}

// decode reverses encode. Unreadable values are reported as misses so the
// document is treated like an expired one.
func (s *TextStore) decode(k string, raw []byte) (string, error) {
	switch {
	case bytes.HasPrefix(raw, []byte(markerPlain)):
		return string(raw[len(markerPlain):]), nil
	case bytes.HasPrefix(raw, []byte(markerGzip)):
		zr, err := gzip.NewReader(bytes.NewReader(raw[len(markerGzip):]))
		if err == nil {
			var out []byte
			out, err = io.ReadAll(zr)
			if err == nil {
				return string(out), nil
			}
		}
		applog.Warn("[Cache/Redis] Corrupt compressed value", "key", k, "error", err)
		return "", rag.ErrCacheMiss
	default:
		applog.Warn("[Cache/Redis] Unknown value encoding", "key", k)
		return "", rag.ErrCacheMiss
	}
}

// ── Keys ──

func (s *TextStore) key(key rag.CacheKey) string {
	return s.cfg.KeyPrefix + key.String()
}

func pieceKey(k string, i int) string {
	return k + pieceSuffix + strconv.Itoa(i)
}

func (s *TextStore) meta(ctx context.Context, k string) (pieceMeta, error) {
	var m pieceMeta
	raw, err := s.client.Get(ctx, k+metaSuffix).Bytes()
	if errors.Is(err, redis.Nil) {
		return m, rag.ErrCacheMiss
	}
	if err != nil {
		return m, unavailable("get meta", k, err)
	}
	if err := json.Unmarshal(raw, &m); err != nil || m.Pieces <= 0 {
		applog.Warn("[Cache/Redis] Corrupt meta record", "key", k, "meta", strings.TrimSpace(string(raw)))
		return pieceMeta{}, rag.ErrCacheMiss
	}
	return m, nil
}

// pieceCount returns how many pieces the current value of k is split into,
// 0 when it is stored whole or absent.
func (s *TextStore) pieceCount(ctx context.Context, k string) (int, error) {
	m, err := s.meta(ctx, k)
	if errors.Is(err, rag.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.Pieces, nil
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: redis %s %s: %v", rag.ErrBackendUnavailable, op, key, err)
}
