package receiptnum

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/donation-receipt-system/internal/model"
)

// stubChecker считает занятыми номера из taken.
type stubChecker struct {
	taken map[string]bool
	calls []string
}

func (s *stubChecker) IsReceiptNumberUnique(_ context.Context, number string) (bool, error) {
	s.calls = append(s.calls, number)
	return !s.taken[number], nil
}

func fixedDisambiguator(v string) func() string {
	return func() string { return v }
}

func TestPrefix(t *testing.T) {
	tests := []struct {
		name       string
		donor      model.Donor
		fiscalYear int
		want       string
	}{
		{
			name:       "apostrophe stripped",
			donor:      model.Donor{LastName: "O'Brien", FirstName: "Jo"},
			fiscalYear: 2024,
			want:       "OBRJO2024",
		},
		{
			name:       "diacritics stripped",
			donor:      model.Donor{LastName: "Éloïse", FirstName: "René"},
			fiscalYear: 2023,
			want:       "ELORE2023",
		},
		{
			name:       "short last name padded right",
			donor:      model.Donor{LastName: "Ng", FirstName: "Ana"},
			fiscalYear: 2024,
			want:       "NGXAN2024",
		},
		{
			name:       "organization uses last name tail",
			donor:      model.Donor{LastName: "Helping Hands Foundation"},
			fiscalYear: 2024,
			want:       "HELPI2024",
		},
		{
			name:       "organization with short name padded left",
			donor:      model.Donor{LastName: "Fund"},
			fiscalYear: 2024,
			want:       "FUNXD2024",
		},
		{
			name:       "no first name and nothing to borrow",
			donor:      model.Donor{LastName: "Ito"},
			fiscalYear: 2024,
			want:       "ITOXX2024",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Prefix(tt.donor, tt.fiscalYear))
		})
	}
}

func TestAllocate_FirstNumberEndsIn001(t *testing.T) {
	alloc := NewAllocator(&stubChecker{taken: map[string]bool{}})
	alloc.disambiguator = fixedDisambiguator("ABC")

	d := &model.Donation{
		FiscalYear: 2024,
		Donor:      model.Donor{LastName: "O'Brien", FirstName: "Jo"},
	}

	number, err := alloc.Allocate(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "OBRJO2024-ABC001", number)
}

func TestAllocate_RandomDisambiguatorFormat(t *testing.T) {
	alloc := NewAllocator(&stubChecker{taken: map[string]bool{}})

	d := &model.Donation{
		FiscalYear: 2024,
		Donor:      model.Donor{LastName: "O'Brien", FirstName: "Jo"},
	}

	number, err := alloc.Allocate(context.Background(), d)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^OBRJO2024-[0-9A-Z]{3}001$`), number)
}

func TestAllocate_SkipsTakenNumbers(t *testing.T) {
	checker := &stubChecker{taken: map[string]bool{
		"OBRJO2024-ABC001": true,
		"OBRJO2024-ABC002": true,
	}}
	alloc := NewAllocator(checker)
	alloc.disambiguator = fixedDisambiguator("ABC")

	d := &model.Donation{
		FiscalYear: 2024,
		Donor:      model.Donor{LastName: "O'Brien", FirstName: "Jo"},
	}

	number, err := alloc.Allocate(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "OBRJO2024-ABC003", number)
}

func TestAllocate_ResumesAfterExistingDocuments(t *testing.T) {
	alloc := NewAllocator(&stubChecker{taken: map[string]bool{}})
	alloc.disambiguator = fixedDisambiguator("ABC")

	d := &model.Donation{
		FiscalYear: 2024,
		Donor:      model.Donor{LastName: "O'Brien", FirstName: "Jo"},
		Documents: []model.DocumentMetadata{
			{ID: "OBRJO2024-ABC004", CreatedAt: time.Now()},
			{ID: "OBRJO2024-XYZ009", CreatedAt: time.Now()},
		},
	}

	number, err := alloc.Allocate(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "OBRJO2024-ABC005", number,
		"counter resumes after the highest suffix under the exact prefix")
}

func TestAllocate_NeverRepeatsAllocatedNumber(t *testing.T) {
	checker := &stubChecker{taken: map[string]bool{}}
	alloc := NewAllocator(checker)
	alloc.disambiguator = fixedDisambiguator("ABC")

	d := &model.Donation{
		FiscalYear: 2024,
		Donor:      model.Donor{LastName: "O'Brien", FirstName: "Jo"},
	}

	first, err := alloc.Allocate(context.Background(), d)
	require.NoError(t, err)

	// Выданный номер фиксируется в хранилище; повторный вызов обязан
	// вернуть другой номер.
	checker.taken[first] = true

	second, err := alloc.Allocate(context.Background(), d)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestAllocate_Exhausted(t *testing.T) {
	taken := map[string]bool{}
	for n := 1; n <= 999; n++ {
		taken[fmt.Sprintf("OBRJO2024-ABC%03d", n)] = true
	}
	alloc := NewAllocator(&stubChecker{taken: taken})
	alloc.disambiguator = fixedDisambiguator("ABC")

	d := &model.Donation{
		FiscalYear: 2024,
		Donor:      model.Donor{LastName: "O'Brien", FirstName: "Jo"},
	}

	_, err := alloc.Allocate(context.Background(), d)
	require.ErrorIs(t, err, ErrExhausted)
}
