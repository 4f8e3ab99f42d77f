package model

// ComputeStatus — исход операции вычисления дайджеста.
type ComputeStatus string

const (
	// ComputeStatusComputed — содержимое прочитано, дайджест записан.
	ComputeStatusComputed ComputeStatus = "computed"
	// ComputeStatusCached — дайджест уже существовал, файл не читался (force=false).
	ComputeStatusCached ComputeStatus = "cached"
	// ComputeStatusNotAccessible — файл отсутствует или не читается;
	// ранее сохранённый дайджест (если был) не изменён.
	ComputeStatusNotAccessible ComputeStatus = "not_accessible"
)

// ComputeResult — типизированный результат вычисления.
// Разделяет "дайджест не вычислялся" и "вычисление не удалось".
type ComputeResult struct {
	// Status — исход операции
	Status ComputeStatus
	// Digest — текущий сохранённый дайджест (nil — отсутствует)
	Digest *Digest
}

// HasDigest возвращает true, если после операции дайджест присутствует.
func (r *ComputeResult) HasDigest() bool {
	return r != nil && r.Digest != nil
}
