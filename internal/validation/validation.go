// Package validation содержит функции валидации входных данных.
package validation

import "github.com/google/uuid"

// IsValidOrderID проверяет, что идентификатор ордера — корректный UUID.
func IsValidOrderID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
