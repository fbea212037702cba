package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTemplate(t *testing.T) {
	p := NewProvider()

	for _, name := range []string{"receipt.html", "email/thank-you.html", "email/no-mailing-addr.html"} {
		data, err := p.LoadTemplate(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, data, name)
	}
}

func TestLoadTemplate_NotFound(t *testing.T) {
	p := NewProvider()

	_, err := p.LoadTemplate("nope.html")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadTranslations(t *testing.T) {
	p := NewProvider()

	for _, locale := range []string{"en", "fr"} {
		translations, err := p.LoadTranslations(locale)
		require.NoError(t, err, locale)
		assert.NotEmpty(t, translations["title"], locale)
		assert.NotEmpty(t, translations["subject.thank-you"], locale)
		assert.NotEmpty(t, translations["subject.no-mailing-addr"], locale)
	}
}

func TestLoadTranslations_NotFound(t *testing.T) {
	p := NewProvider()

	_, err := p.LoadTranslations("de")
	require.ErrorIs(t, err, ErrNotFound)
}
