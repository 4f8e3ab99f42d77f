// Пакет filestore — доступ к физическим файлам на локальном диске.
// Разрешает storage_path из file_registry в абсолютный путь внутри
// корневой директории и открывает файлы для чтения.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/hash-index/internal/domain/model"
)

// ErrInvalidPath — storage_path пустой или выходит за пределы dataDir.
var ErrInvalidPath = errors.New("недопустимый путь файла")

// FileStore — чтение физических файлов из dataDir.
type FileStore struct {
	// dataDir — корневая директория хранения файлов (HI_DATA_DIR)
	dataDir string
}

// New создаёт FileStore. Директория должна существовать.
func New(dataDir string) (*FileStore, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("некорректная директория данных %s: %w", dataDir, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("директория данных %s недоступна: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s не является директорией", abs)
	}

	return &FileStore{dataDir: abs}, nil
}

// AttachedFile возвращает абсолютный путь к содержимому файла.
// storage_path обязан быть относительным и не покидать dataDir.
func (fs *FileStore) AttachedFile(_ context.Context, record *model.FileRecord) (string, error) {
	rel := record.StoragePath
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}

	full := filepath.Join(fs.dataDir, rel)
	if !strings.HasPrefix(full, fs.dataDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}

	return full, nil
}

// FileExists проверяет, что по пути существует обычный файл.
func (fs *FileStore) FileExists(_ context.Context, path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Open открывает файл для чтения. Вызывающий код обязан закрыть ReadCloser.
func (fs *FileStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path) //nolint:gosec // G304: путь проверен в AttachedFile
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	return f, nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}
