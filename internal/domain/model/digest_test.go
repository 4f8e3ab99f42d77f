package model

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// TestSumBytes_KnownVectors проверяет SHA-1 на известных значениях.
func TestSumBytes_KnownVectors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "hello", want: "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"},
		{input: "world", want: "7c211433f02071597741e6ff5a8ea34789abbf43"},
		{input: "", want: "da39a3ee5e6b4b0d3255bfef95601890afd80709"},
	}

	for _, tt := range tests {
		got := SumBytes([]byte(tt.input)).Hex()
		if got != tt.want {
			t.Errorf("SumBytes(%q) = %s, ожидался %s", tt.input, got, tt.want)
		}
	}
}

// TestSumBytes_Deterministic проверяет детерминированность дайджеста.
func TestSumBytes_Deterministic(t *testing.T) {
	data := []byte(strings.Repeat("artstore", 4096))

	first := SumBytes(data)
	second := SumBytes(append([]byte(nil), data...))
	if first != second {
		t.Errorf("дайджесты одинаковых данных различаются: %s != %s", first, second)
	}
}

// TestNewHasher_MatchesSumBytes проверяет, что потоковое вычисление совпадает с SumBytes.
func TestNewHasher_MatchesSumBytes(t *testing.T) {
	data := strings.Repeat("0123456789", 10000)

	h := NewHasher()
	if _, err := io.Copy(h, strings.NewReader(data)); err != nil {
		t.Fatalf("io.Copy ошибка: %v", err)
	}

	if got, want := DigestFromHash(h), SumBytes([]byte(data)); got != want {
		t.Errorf("потоковый дайджест = %s, ожидался %s", got, want)
	}
}

// TestParseDigest проверяет разбор и нормализацию hex-строки.
func TestParseDigest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "lowercase",
			input: "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d",
			want:  "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d",
		},
		{
			name:  "uppercase нормализуется",
			input: "AAF4C61DDCC5E8A2DABEDE0F3B482CD9AEA9434D",
			want:  "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d",
		},
		{
			name:  "пробелы по краям",
			input: "  7c211433f02071597741e6ff5a8ea34789abbf43\n",
			want:  "7c211433f02071597741e6ff5a8ea34789abbf43",
		},
		{name: "пустая строка", input: "", wantErr: true},
		{name: "префикс (частичное совпадение не поддерживается)", input: "aaf4c61d", wantErr: true},
		{name: "не hex", input: "zzf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", wantErr: true},
		{name: "SHA-256 длина", input: strings.Repeat("a", 64), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDigest(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ожидалась ошибка для %q", tt.input)
				}
				if !errors.Is(err, ErrInvalidDigest) {
					t.Errorf("ошибка = %v, ожидалась ErrInvalidDigest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDigest(%q) ошибка: %v", tt.input, err)
			}
			if got.Hex() != tt.want {
				t.Errorf("ParseDigest(%q) = %s, ожидался %s", tt.input, got.Hex(), tt.want)
			}
		})
	}
}

// TestDigest_IsZero проверяет нулевое значение.
func TestDigest_IsZero(t *testing.T) {
	var d Digest
	if !d.IsZero() {
		t.Error("нулевой Digest должен быть IsZero")
	}
	if SumBytes([]byte("hello")).IsZero() {
		t.Error("дайджест непустых данных не должен быть IsZero")
	}
}
