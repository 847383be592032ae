package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

// Middleware picks the request language from the lang query parameter or
// Accept-Language, falling back to def.
func Middleware(def string) func(http.Handler) http.Handler {
	fallback := NewLocalizer(def)
	matcher := language.NewMatcher(Supported())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loc := fallback
			if q := r.URL.Query().Get("lang"); q != "" {
				loc = NewLocalizer(q, def)
			} else if accept := r.Header.Get("Accept-Language"); accept != "" {
				prefs, _, err := language.ParseAcceptLanguage(accept)
				if err == nil && len(prefs) > 0 {
					tag, _, conf := matcher.Match(prefs...)
					if conf != language.No {
						base, _ := tag.Base()
						loc = NewLocalizer(base.String(), def)
					}
				}
			}
			next.ServeHTTP(w, r.WithContext(WithLocalizer(r.Context(), loc)))
		})
	}
}
