package models

import "time"

// ValidationResult - результат проверки сгенерированного артефакта на
// соответствие запрошенным атрибутам. Создается валидационным шлюзом
// один раз и далее не изменяется.
type ValidationResult struct {
	IsValid    bool      `json:"isValid"`
	Confidence float64   `json:"confidence"` // [0,1]
	Mismatches []string  `json:"mismatches,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}
