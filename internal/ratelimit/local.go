package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// LocalStore хранит счётчики окон в памяти процесса. Используется как
// резерв при недоступности общего хранилища. Истёкшие счётчики удаляет
// фоновый уборщик go-cache, что ограничивает потребление памяти.
type LocalStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewLocalStore создаёт локальное хранилище со сборкой истёкших счётчиков
// раз в sweepInterval.
func NewLocalStore(sweepInterval time.Duration) *LocalStore {
	return &LocalStore{
		cache: cache.New(cache.NoExpiration, sweepInterval),
	}
}

// Incr увеличивает счётчик окна. Мьютекс делает пару «создать или
// увеличить» атомарной относительно конкурентных запросов.
func (s *LocalStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cache.Add(key, int64(1), window); err == nil {
		return 1, window, nil
	}

	count, err := s.cache.IncrementInt64(key, 1)
	if err != nil {
		// запись истекла между Add и Increment — начинаем новое окно
		s.cache.Set(key, int64(1), window)
		return 1, window, nil
	}

	_, expiry, ok := s.cache.GetWithExpiration(key)
	if !ok {
		return count, window, nil
	}

	ttl := time.Until(expiry)
	if ttl < 0 {
		ttl = 0
	}

	return count, ttl, nil
}
