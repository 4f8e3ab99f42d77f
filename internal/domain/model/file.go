// Пакет model — доменные модели Hash Index.
// FileRecord — проекция таблицы file_registry (owned by Admin Module),
// DigestAttribute — SHA-1 дайджест содержимого файла (owned by Hash Index).
package model

import "time"

// Статусы файла в file_registry.
const (
	FileStatusActive  = "active"
	FileStatusDeleted = "deleted"
)

// FileRecord — запись файла в реестре file_registry.
// Hash Index читает только идентификатор и путь к содержимому.
type FileRecord struct {
	// FileID — UUID файла
	FileID string
	// StoragePath — путь к файлу относительно корня файлового хранилища
	StoragePath string
	// Status — статус файла: active, deleted, expired
	Status string
	// UpdatedAt — время последнего обновления записи
	UpdatedAt time.Time
}

// DigestAttribute — сохранённый дайджест файла.
// Для каждого file_id существует не более одной записи.
type DigestAttribute struct {
	// FileID — ссылка на FileRecord.FileID (не владение)
	FileID string
	// Digest — SHA-1 содержимого на момент последнего успешного вычисления
	Digest Digest
	// UpdatedAt — время последней записи дайджеста
	UpdatedAt time.Time
}
