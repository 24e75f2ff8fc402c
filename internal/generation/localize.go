package generation

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/suPer8Hu/llm-playground/internal/ai"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	CodeBusy            = "busy"
	CodeEmptyHistory    = "empty_history"
	CodeMissingAPIKey   = "missing_api_key"
	CodeInvalidSettings = "invalid_settings"
	CodeProvider        = "provider_error"
	CodeUnknown         = "unknown_error"
)

var fallbackMessages = map[string]map[language.Tag]string{
	CodeBusy: {
		language.English: "A response is already being generated.",
		language.German:  "Es wird bereits eine Antwort erzeugt.",
		language.French:  "Une réponse est déjà en cours de génération.",
	},
	CodeEmptyHistory: {
		language.English: "Add a message before generating.",
		language.German:  "Füge vor dem Generieren eine Nachricht hinzu.",
		language.French:  "Ajoutez un message avant de lancer la génération.",
	},
	CodeMissingAPIKey: {
		language.English: "This provider needs an API key. Add one in the settings.",
		language.German:  "Dieser Anbieter benötigt einen API-Schlüssel. Trage ihn in den Einstellungen ein.",
		language.French:  "Ce fournisseur exige une clé API. Ajoutez-la dans les paramètres.",
	},
	CodeInvalidSettings: {
		language.English: "Invalid settings: %s",
		language.German:  "Ungültige Einstellungen: %s",
		language.French:  "Paramètres invalides : %s",
	},
	CodeProvider: {
		language.English: "The model provider returned an error: %s",
		language.German:  "Der Modellanbieter hat einen Fehler gemeldet: %s",
		language.French:  "Le fournisseur du modèle a renvoyé une erreur : %s",
	},
	CodeUnknown: {
		language.English: "Something went wrong while generating. Please try again.",
		language.German:  "Beim Generieren ist etwas schiefgelaufen. Bitte versuche es erneut.",
		language.French:  "Une erreur s'est produite pendant la génération. Veuillez réessayer.",
	},
}

var (
	catalogLangs = []language.Tag{language.English, language.German, language.French}
	fallbackCat  = buildCatalog()
	langMatcher  = language.NewMatcher(catalogLangs)
)

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for code, byLang := range fallbackMessages {
		for tag, msg := range byLang {
			_ = b.SetString(tag, code, msg)
		}
	}
	return b
}

// localizer renders notice codes in the best supported language.
type localizer struct {
	preferred []language.Tag
	printer   *message.Printer
}

func newLocalizer(preferred []language.Tag) localizer {
	_, idx, _ := langMatcher.Match(preferred...)
	return localizer{
		preferred: preferred,
		printer:   message.NewPrinter(catalogLangs[idx], message.Catalog(fallbackCat)),
	}
}

func (l localizer) text(code string, args ...any) string {
	return l.printer.Sprintf(code, args...)
}

// notice classifies err into a localized Notice.
func (l localizer) notice(err error) Notice {
	var perr *ai.ProviderError
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, ErrBusy):
		return Notice{Level: LevelError, Code: CodeBusy, Message: l.text(CodeBusy)}
	case errors.Is(err, ErrEmptyHistory):
		return Notice{Level: LevelError, Code: CodeEmptyHistory, Message: l.text(CodeEmptyHistory)}
	case errors.Is(err, ErrMissingAPIKey):
		return Notice{Level: LevelError, Code: CodeMissingAPIKey, Message: l.text(CodeMissingAPIKey)}
	case errors.As(err, &verrs):
		return Notice{Level: LevelError, Code: CodeInvalidSettings, Message: l.text(CodeInvalidSettings, verrs.Error()), Detail: err.Error()}
	case errors.As(err, &perr):
		return Notice{
			Level:   LevelError,
			Code:    CodeProvider,
			Message: l.text(CodeProvider, perr.LocalizedMessage(l.preferred...)),
			Detail:  err.Error(),
		}
	default:
		return Notice{Level: LevelError, Code: CodeUnknown, Message: l.text(CodeUnknown), Detail: err.Error()}
	}
}

// ParseLanguages turns an Accept-Language style list ("de-CH,fr;q=0.8") into tags.
// Unparseable input yields English.
func ParseLanguages(s string) []language.Tag {
	tags, _, err := language.ParseAcceptLanguage(s)
	if err != nil || len(tags) == 0 {
		return []language.Tag{language.English}
	}
	return tags
}
