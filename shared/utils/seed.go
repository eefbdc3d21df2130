package utils

import (
	"hash/fnv"
	"strings"
)

// CharacterSeed - документированный детерминированный хеш идентифицирующих
// атрибутов персонажа: FNV-1a от имени в нижнем регистре без краевых
// пробелов. Один и тот же персонаж всегда дает один и тот же seed между
// запусками, что гарантирует воспроизводимый выбор оффлайн-ассетов и
// синтез внешности.
func CharacterSeed(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	return h.Sum64()
}
