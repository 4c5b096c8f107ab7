package notify

import (
	"fmt"

	"golang.org/x/text/language"
)

// catalog holds the per-language message templates for MFA codes. The
// matcher falls back through the user's locale chain to English.
var supported = []language.Tag{
	language.English, // first entry is the fallback
	language.German,
	language.Spanish,
	language.French,
}

var matcher = language.NewMatcher(supported)

type template struct {
	subject string
	body    string // fmt template taking the code
}

var emailTemplates = map[language.Tag]template{
	language.English: {"Your verification code", "Your verification code is %s. It expires shortly."},
	language.German:  {"Ihr Bestätigungscode", "Ihr Bestätigungscode lautet %s. Er läuft in Kürze ab."},
	language.Spanish: {"Tu código de verificación", "Tu código de verificación es %s. Caduca en breve."},
	language.French:  {"Votre code de vérification", "Votre code de vérification est %s. Il expire bientôt."},
}

var smsTemplates = map[language.Tag]string{
	language.English: "Code: %s",
	language.German:  "Code: %s",
	language.Spanish: "Código: %s",
	language.French:  "Code : %s",
}

// match resolves a BCP 47 locale string to a supported tag.
func match(locale string) language.Tag {
	tag, _ := language.MatchStrings(matcher, locale)
	// MatchStrings can return a close variant; collapse to the base tag
	// our template maps key on.
	base, _ := tag.Base()
	for _, s := range supported {
		if sb, _ := s.Base(); sb == base {
			return s
		}
	}
	return language.English
}

// RenderCodeEmail builds the localized email carrying an MFA code.
func RenderCodeEmail(locale, code string) (subject, body string) {
	tpl := emailTemplates[match(locale)]
	return tpl.subject, fmt.Sprintf(tpl.body, code)
}

// RenderCodeSMS builds the localized SMS carrying an MFA code.
func RenderCodeSMS(locale, code string) string {
	return fmt.Sprintf(smsTemplates[match(locale)], code)
}
