package i18n

import (
	"testing"
)

func env(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func TestResolve(t *testing.T) {
	available := []string{"en", "ko"}
	tests := []struct {
		locale string
		env    map[string]string
		want   string
	}{
		{"en", nil, "en"},
		{"ko", nil, "ko"},
		{"KO", nil, "ko"},
		{"ko-KR", nil, "ko"},
		{"fr", nil, "en"},
		{"auto", map[string]string{"LANG": "ko_KR.UTF-8"}, "ko"},
		{"auto", map[string]string{"LC_ALL": "en_US.UTF-8", "LANG": "ko_KR.UTF-8"}, "en"},
		{"auto", map[string]string{"LANG": "C"}, "en"},
		{"", map[string]string{"LC_MESSAGES": "ko"}, "ko"},
		{"auto", nil, "en"},
	}
	for _, tt := range tests {
		if got := Resolve(tt.locale, env(tt.env), available); got != tt.want {
			t.Errorf("Resolve(%q, %v) = %q, want %q", tt.locale, tt.env, got, tt.want)
		}
	}
}

func TestLocales(t *testing.T) {
	codes, err := Locales()
	if err != nil {
		t.Fatalf("Locales: %v", err)
	}
	if len(codes) != 2 || codes[0] != "en" || codes[1] != "ko" {
		t.Fatalf("Locales = %v", codes)
	}
}

func TestCatalogTranslates(t *testing.T) {
	c, err := newCatalog("ko", env(nil))
	if err != nil {
		t.Fatalf("newCatalog: %v", err)
	}
	if c.Locale() != "ko" {
		t.Fatalf("Locale = %q", c.Locale())
	}
	if got := c.T(Restart); got != "재시작" {
		t.Errorf("T(restart) = %q", got)
	}
}

func TestCatalogFallsBackPerKey(t *testing.T) {
	c, err := newCatalog("ko", env(nil))
	if err != nil {
		t.Fatalf("newCatalog: %v", err)
	}
	// ko does not define invalidDateRange.
	if got := c.T(InvalidDateRange); got != "The start date must be before the end date." {
		t.Errorf("T(invalidDateRange) = %q", got)
	}
	if got := c.T("noSuchKey"); got != "noSuchKey" {
		t.Errorf("T(noSuchKey) = %q", got)
	}
}

func TestEveryKeyHasEnglish(t *testing.T) {
	en, err := loadTable(Fallback)
	if err != nil {
		t.Fatalf("loadTable: %v", err)
	}
	keys := []string{
		Warning, Error, Success, Restart, NetworkError, VersionError,
		JailbrokenErrorIOS, JailbrokenErrorAndroid, EmulatorError, UnknownError,
		AppKeyRequire, AppKeyAlreadyUse, AppKeyCantVerify, Mismatch,
		AutoLoginFailed, AppKeyLengthError, DeviceUnavailable, LoginSuccess,
		FindAppKeyMessage, ContactSupport, StartDateRequired, EndDateRequired,
		InvalidDateRange, NoLogs, LogsReset,
	}
	for _, k := range keys {
		if en[k] == "" {
			t.Errorf("missing English message for %q", k)
		}
	}
}
