// Package i18n renders notification strings in the configured language.
// Locale catalogs are embedded; the language is fixed at startup since
// all outbound mail for one pipeline run uses one language.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

var localizer *i18n.Localizer

// Init loads the translation bundle and pins the given language.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		bundle.MustParseMessageFileBytes(data, e.Name())
	}

	localizer = i18n.NewLocalizer(bundle, tag.String(), "en")
	return nil
}

// T translates a message by ID.
func T(msgID string) string {
	return Td(msgID, nil)
}

// Td translates a message by ID with template data.
func Td(msgID string, data map[string]any) string {
	if localizer == nil {
		slog.Warn("i18n not initialized", "id", msgID)
		return msgID
	}
	s, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    msgID,
		TemplateData: data,
	})
	if err != nil {
		slog.Warn("missing translation", "id", msgID, "error", err)
		return msgID
	}
	return s
}
