// Package content предоставляет шаблоны документов и переводы
// из встроенных ресурсов.
package content

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
)

//go:embed templates translations
var contentFS embed.FS

// ErrNotFound возвращается, если шаблон или набор переводов отсутствует.
var ErrNotFound = errors.New("content not found")

// Provider загружает шаблоны и переводы из встроенной файловой системы.
type Provider struct{}

// NewProvider создаёт новый провайдер встроенного контента.
func NewProvider() *Provider {
	return &Provider{}
}

// LoadTemplate возвращает исходный текст шаблона по имени,
// например "receipt.html" или "email/thank-you.html".
func (p *Provider) LoadTemplate(name string) ([]byte, error) {
	data, err := contentFS.ReadFile("templates/" + name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: template %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}
	return data, nil
}

// LoadTranslations возвращает словарь переводов для указанной локали.
func (p *Provider) LoadTranslations(locale string) (map[string]string, error) {
	data, err := contentFS.ReadFile("translations/" + locale + ".json")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: locale %s", ErrNotFound, locale)
		}
		return nil, fmt.Errorf("read translations %s: %w", locale, err)
	}

	var translations map[string]string
	if err := json.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("unmarshal translations %s: %w", locale, err)
	}
	return translations, nil
}
