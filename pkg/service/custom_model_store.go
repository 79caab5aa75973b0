package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowpilot/flowpilot/pkg/models"
)

var ErrCustomModelID = errors.New("custom model id must not be empty")

const customModelsFileName = ".flowpilot/custom_models.json"

// DefaultCustomModelsFilePath returns ~/.flowpilot/custom_models.json.
func DefaultCustomModelsFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return customModelsFileName
	}
	return filepath.Join(home, customModelsFileName)
}

// CustomModelStore remembers user-added model ids, most recently used
// first, capped at models.MaxCustomModels.
type CustomModelStore interface {
	List(ctx context.Context) ([]models.CustomModel, error)
	Touch(ctx context.Context, id, label string) ([]models.CustomModel, error)
	Remove(ctx context.Context, id string) ([]models.CustomModel, error)
}

// touchList moves id to the front with a fresh timestamp and trims the list.
func touchList(list []models.CustomModel, id, label string, now time.Time) []models.CustomModel {
	var prev *models.CustomModel
	if i := slices.IndexFunc(list, func(m models.CustomModel) bool { return m.ID == id }); i >= 0 {
		p := list[i]
		prev = &p
	}
	if label == "" && prev != nil {
		label = prev.Label
	}
	rest := slices.DeleteFunc(slices.Clone(list), func(m models.CustomModel) bool { return m.ID == id })
	out := append([]models.CustomModel{{ID: id, Label: label, LastUsed: now.UnixMilli()}}, rest...)
	if len(out) > models.MaxCustomModels {
		out = out[:models.MaxCustomModels]
	}
	return out
}

func sortCustomModels(list []models.CustomModel) {
	slices.SortStableFunc(list, func(a, b models.CustomModel) int {
		switch {
		case a.LastUsed > b.LastUsed:
			return -1
		case a.LastUsed < b.LastUsed:
			return 1
		}
		return 0
	})
}

func normalizeCustomModelID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrCustomModelID
	}
	return id, nil
}

// ========== File backend ==========

// FileCustomModelStore keeps the list in a JSON file.
type FileCustomModelStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewFileCustomModelStore(path string) *FileCustomModelStore {
	if path == "" {
		path = DefaultCustomModelsFilePath()
	}
	return &FileCustomModelStore{path: path, now: time.Now}
}

func (s *FileCustomModelStore) read() ([]models.CustomModel, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.CustomModel{}, nil
	}
	if err != nil {
		return nil, err
	}
	var list []models.CustomModel
	if err := json.Unmarshal(data, &list); err != nil {
		// a corrupt file is treated as empty and rewritten on the next touch
		return []models.CustomModel{}, nil
	}
	sortCustomModels(list)
	if len(list) > models.MaxCustomModels {
		list = list[:models.MaxCustomModels]
	}
	return list, nil
}

func (s *FileCustomModelStore) write(list []models.CustomModel) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *FileCustomModelStore) List(_ context.Context) ([]models.CustomModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileCustomModelStore) Touch(_ context.Context, id, label string) ([]models.CustomModel, error) {
	id, err := normalizeCustomModelID(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.read()
	if err != nil {
		return nil, err
	}
	list = touchList(list, id, strings.TrimSpace(label), s.now())
	if err := s.write(list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *FileCustomModelStore) Remove(_ context.Context, id string) ([]models.CustomModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.read()
	if err != nil {
		return nil, err
	}
	list = slices.DeleteFunc(list, func(m models.CustomModel) bool { return m.ID == id })
	if err := s.write(list); err != nil {
		return nil, err
	}
	return list, nil
}

// ========== Redis backend ==========

// RedisCustomModelStore keeps the list in a sorted set scored by last use,
// with labels in a companion hash.
type RedisCustomModelStore struct {
	rdb *redis.Client
	key string
	now func() time.Time
}

func NewRedisCustomModelStore(rdb *redis.Client, key string) *RedisCustomModelStore {
	return &RedisCustomModelStore{rdb: rdb, key: key, now: time.Now}
}

// NewRedisCustomModelStoreFromAddr connects to addr.
func NewRedisCustomModelStoreFromAddr(addr, key string) *RedisCustomModelStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 10 * time.Second,
	})
	return NewRedisCustomModelStore(rdb, key)
}

func (s *RedisCustomModelStore) labelsKey() string {
	return s.key + ":labels"
}

func (s *RedisCustomModelStore) List(ctx context.Context) ([]models.CustomModel, error) {
	entries, err := s.rdb.ZRevRangeWithScores(ctx, s.key, 0, models.MaxCustomModels-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list custom models: %w", err)
	}
	if len(entries) == 0 {
		return []models.CustomModel{}, nil
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = fmt.Sprint(e.Member)
	}
	labels, err := s.rdb.HMGet(ctx, s.labelsKey(), ids...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list custom model labels: %w", err)
	}
	out := make([]models.CustomModel, len(entries))
	for i, e := range entries {
		out[i] = models.CustomModel{ID: ids[i], LastUsed: int64(e.Score)}
		if i < len(labels) {
			if l, ok := labels[i].(string); ok {
				out[i].Label = l
			}
		}
	}
	return out, nil
}

func (s *RedisCustomModelStore) Touch(ctx context.Context, id, label string) ([]models.CustomModel, error) {
	id, err := normalizeCustomModelID(id)
	if err != nil {
		return nil, err
	}
	label = strings.TrimSpace(label)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.key, redis.Z{Score: float64(s.now().UnixMilli()), Member: id})
		if label != "" {
			pipe.HSet(ctx, s.labelsKey(), id, label)
		}
		// keep the newest MaxCustomModels members
		pipe.ZRemRangeByRank(ctx, s.key, 0, int64(-models.MaxCustomModels-1))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("touch custom model: %w", err)
	}
	return s.List(ctx)
}

func (s *RedisCustomModelStore) Remove(ctx context.Context, id string) ([]models.CustomModel, error) {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.key, id)
		pipe.HDel(ctx, s.labelsKey(), id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remove custom model: %w", err)
	}
	return s.List(ctx)
}

// Close closes the redis client.
func (s *RedisCustomModelStore) Close() error {
	return s.rdb.Close()
}
