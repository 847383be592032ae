package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pavelanni/parley/internal/model"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return ForLang(context.Background(), lang)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		lang, id, want string
	}{
		{"en", "ReportTitle", "Session Report"},
		{"ru", "ReportTitle", "Отчёт о сессии"},
		{"en", "SuggestionRelaxation", "Try relaxation techniques"},
		{"ru", "SuggestionEngageMore", "Активнее участвуйте в разговоре"},
		{"de", "Score", "Score"},
	}
	for _, tt := range tests {
		t.Run(tt.lang+"/"+tt.id, func(t *testing.T) {
			ctx := initLang(t, tt.lang)
			if got := T(ctx, tt.id); got != tt.want {
				t.Errorf("T(%s) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestPluralTranslation(t *testing.T) {
	en := initLang(t, "en")
	if got := Tp(en, "MinutesCount", 1); got != "1 minute" {
		t.Errorf("Tp(MinutesCount, 1) = %q", got)
	}
	if got := Tp(en, "MinutesCount", 5); got != "5 minutes" {
		t.Errorf("Tp(MinutesCount, 5) = %q", got)
	}

	ru := initLang(t, "ru")
	if got := Tp(ru, "MinutesCount", 2); got != "2 минуты" {
		t.Errorf("Tp(MinutesCount, 2) = %q", got)
	}
	if got := Tp(ru, "MinutesCount", 5); got != "5 минут" {
		t.Errorf("Tp(MinutesCount, 5) = %q", got)
	}
}

func TestMedalName(t *testing.T) {
	ctx := initLang(t, "en")
	if got := MedalName(ctx, model.MedalAdaptability); got != "Adaptability" {
		t.Errorf("MedalName = %q", got)
	}
	for _, m := range model.AllMedals {
		if got := MedalName(ctx, m); got == "" || got[:5] == "Medal" {
			t.Errorf("MedalName(%s) not translated: %q", m, got)
		}
	}
	e := model.AchievementEntry{Medal: model.MedalCharisma, Level: 2, At: time.Now()}
	if got := LevelUp(ctx, e); got != "Charisma reached level 2" {
		t.Errorf("LevelUp = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")
	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q", got)
	}
}

func TestMiddleware(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}
	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "Score")
	}))

	tests := []struct {
		name   string
		target string
		accept string
		want   string
	}{
		{"default", "/", "", "Score"},
		{"accept header", "/", "ru-RU,ru;q=0.9", "Баллы"},
		{"query wins", "/?lang=en", "ru", "Score"},
		{"unsupported", "/", "ja", "Score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
