// Package receiptnum генерирует уникальные человекочитаемые номера квитанций.
package receiptnum

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/mmeshcher/donation-receipt-system/internal/model"
)

// ErrExhausted возвращается, когда пространство номеров под префиксом
// исчерпано. Ситуация фатальна и требует вмешательства оператора.
var ErrExhausted = errors.New("receipt number space exhausted")

// maxCounter — верхняя граница трёхзначного счётчика номера.
const maxCounter = 999

const base36Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// UniquenessChecker проверяет глобальную уникальность номера-кандидата.
type UniquenessChecker interface {
	IsReceiptNumberUnique(ctx context.Context, number string) (bool, error)
}

// Allocator выделяет номера квитанций: детерминированный префикс из данных
// донора плюс случайный разделитель и счётчик, повторяемый до уникальности.
type Allocator struct {
	store UniquenessChecker

	// disambiguator переопределяется в тестах.
	disambiguator func() string
}

// NewAllocator создаёт аллокатор поверх указанного хранилища.
func NewAllocator(store UniquenessChecker) *Allocator {
	return &Allocator{
		store:         store,
		disambiguator: randomDisambiguator,
	}
}

// Allocate возвращает свободный номер квитанции для пожертвования.
// Счётчик продолжается после старшего суффикса среди документов
// пожертвования под тем же префиксом.
func (a *Allocator) Allocate(ctx context.Context, d *model.Donation) (string, error) {
	prefix := Prefix(d.Donor, d.FiscalYear) + "-" + a.disambiguator()

	for n := highestSuffix(d.Documents, prefix) + 1; n <= maxCounter; n++ {
		candidate := fmt.Sprintf("%s%03d", prefix, n)

		unique, err := a.store.IsReceiptNumberUnique(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check receipt number: %w", err)
		}
		if unique {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: prefix %s", ErrExhausted, prefix)
}

// Prefix строит детерминированную часть номера: три буквы фамилии, две буквы
// имени (для организаций — продолжение названия) и фискальный год. Диакритика
// и небуквенные символы отбрасываются, недостающие позиции заполняются X.
func Prefix(donor model.Donor, fiscalYear int) string {
	last := normalize(donor.LastName)
	first := normalize(donor.FirstName)
	if first == "" && len(last) > 3 {
		first = last[3:]
	}

	lastPart := last
	if len(lastPart) > 3 {
		lastPart = lastPart[:3]
	}
	for len(lastPart) < 3 {
		lastPart += "X"
	}

	firstPart := first
	if len(firstPart) > 2 {
		firstPart = firstPart[:2]
	}
	for len(firstPart) < 2 {
		firstPart = "X" + firstPart
	}

	return lastPart + firstPart + strconv.Itoa(fiscalYear)
}

// normalize приводит имя к прописным ASCII-буквам и цифрам:
// NFD-декомпозиция, удаление комбинируемых знаков, фильтрация.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	decomposed, _, err := transform.String(t, s)
	if err != nil {
		decomposed = s
	}

	var b strings.Builder
	for _, r := range strings.ToUpper(decomposed) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func highestSuffix(docs []model.DocumentMetadata, prefix string) int {
	highest := 0
	for _, doc := range docs {
		if !strings.HasPrefix(doc.ID, prefix) || len(doc.ID) != len(prefix)+3 {
			continue
		}
		n, err := strconv.Atoi(doc.ID[len(prefix):])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest
}

func randomDisambiguator() string {
	b := make([]byte, 3)
	for i := range b {
		b[i] = base36Alphabet[rand.IntN(len(base36Alphabet))]
	}
	return string(b)
}
