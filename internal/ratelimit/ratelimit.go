// Package ratelimit реализует ограничение частоты запросов по фиксированным окнам.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Class описывает класс операций с собственными параметрами окна.
type Class string

const (
	ClassAuth     Class = "auth"
	ClassPayment  Class = "payment"
	ClassDownload Class = "download"
	ClassAdmin    Class = "admin"
	ClassWebhook  Class = "webhook"
)

// Limit задаёт длину окна и максимум запросов в нём.
type Limit struct {
	Window time.Duration
	Max    int64
}

// Decision — результат проверки лимита. RetryAfter заполняется при отказе
// остатком текущего окна.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Store — счётчик окон. Incr атомарно увеличивает счётчик ключа и возвращает
// новое значение вместе с остатком времени жизни окна. Первый вызов в окне
// создаёт счётчик со временем жизни, равным окну.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Limiter проверяет лимиты по классам операций. Основное хранилище общее для
// всех экземпляров сервиса; при его недоступности лимитер деградирует на
// локальное хранилище процесса, жертвуя кластерной точностью ради доступности.
type Limiter struct {
	primary  Store
	fallback Store
	limits   map[Class]Limit
}

// NewLimiter создаёт лимитер. primary может быть nil — тогда сразу
// используется локальное хранилище.
func NewLimiter(primary, fallback Store, limits map[Class]Limit) *Limiter {
	return &Limiter{
		primary:  primary,
		fallback: fallback,
		limits:   limits,
	}
}

// DefaultLimits возвращает лимиты по умолчанию для классов операций.
// Аутентификация ограничена жёстче остальных.
func DefaultLimits() map[Class]Limit {
	return map[Class]Limit{
		ClassAuth:     {Window: time.Minute, Max: 5},
		ClassPayment:  {Window: time.Minute, Max: 10},
		ClassDownload: {Window: time.Minute, Max: 30},
		ClassAdmin:    {Window: time.Minute, Max: 30},
		ClassWebhook:  {Window: time.Minute, Max: 120},
	}
}

// Allow проверяет, укладывается ли запрос указанного ключа в лимит класса.
func (l *Limiter) Allow(ctx context.Context, key string, class Class) Decision {
	limit, ok := l.limits[class]
	if !ok {
		return Decision{Allowed: true}
	}

	storeKey := fmt.Sprintf("rl:%s:%s", class, key)

	var (
		count int64
		ttl   time.Duration
		err   error
	)

	if l.primary != nil {
		count, ttl, err = l.primary.Incr(ctx, storeKey, limit.Window)
	}
	if l.primary == nil || err != nil {
		count, ttl, err = l.fallback.Incr(ctx, storeKey, limit.Window)
		if err != nil {
			return Decision{Allowed: true}
		}
	}

	if count > limit.Max {
		return Decision{Allowed: false, RetryAfter: ttl}
	}

	return Decision{Allowed: true}
}
