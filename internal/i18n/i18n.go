// Package i18n holds the localized user-facing messages.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
)

// Fallback is used for keys a locale does not define.
const Fallback = "en"

// Auto resolves the locale from the environment.
const Auto = "auto"

// Message keys.
const (
	Warning                = "warning"
	Error                  = "error"
	Success                = "success"
	Restart                = "restart"
	NetworkError           = "networkError"
	VersionError           = "versionError"
	JailbrokenErrorIOS     = "jailbrokenErrorIOS"
	JailbrokenErrorAndroid = "jailbrokenErrorAndroid"
	EmulatorError          = "emulatorError"
	UnknownError           = "unknownError"
	AppKeyRequire          = "appKeyRequire"
	AppKeyAlreadyUse       = "appKeyAlreadyUse"
	AppKeyCantVerify       = "appKeyCantVerify"
	Mismatch               = "mismatch"
	AutoLoginFailed        = "autoLoginFailed"
	AppKeyLengthError      = "appKeyLengthError"
	DeviceUnavailable      = "deviceUnavailable"
	LoginSuccess           = "loginSuccess"
	FindAppKeyMessage      = "findAppKeyMessage"
	ContactSupport         = "contactSupport"
	StartDateRequired      = "startDateRequired"
	EndDateRequired        = "endDateRequired"
	InvalidDateRange       = "invalidDateRange"
	NoLogs                 = "noLogs"
	LogsReset              = "logsReset"
)

//go:embed langs/*.json
var langFS embed.FS

// Catalog translates message keys for one locale.
type Catalog struct {
	locale   string
	messages map[string]string
	fallback map[string]string
}

// New loads the catalog for locale. Auto reads LC_ALL, LC_MESSAGES and LANG.
// Unknown locales fall back to English.
func New(locale string) (*Catalog, error) {
	return newCatalog(locale, os.Getenv)
}

func newCatalog(locale string, getenv func(string) string) (*Catalog, error) {
	available, err := Locales()
	if err != nil {
		return nil, err
	}
	resolved := Resolve(locale, getenv, available)

	fallback, err := loadTable(Fallback)
	if err != nil {
		return nil, err
	}
	messages := fallback
	if resolved != Fallback {
		if messages, err = loadTable(resolved); err != nil {
			return nil, err
		}
	}
	return &Catalog{locale: resolved, messages: messages, fallback: fallback}, nil
}

// Locale returns the resolved locale code.
func (c *Catalog) Locale() string { return c.locale }

// T returns the message for key. A key missing everywhere is returned as is.
func (c *Catalog) T(key string) string {
	if msg, ok := c.messages[key]; ok && msg != "" {
		return msg
	}
	if msg, ok := c.fallback[key]; ok {
		return msg
	}
	return key
}

// Locales lists the embedded locale codes.
func Locales() ([]string, error) {
	entries, err := langFS.ReadDir("langs")
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(entries))
	for _, e := range entries {
		codes = append(codes, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(codes)
	return codes, nil
}

// Resolve maps a configured locale to one of available. "en-US", "en_US.UTF-8"
// and "EN" all resolve to "en".
func Resolve(locale string, getenv func(string) string, available []string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" || strings.EqualFold(locale, Auto) {
		locale = ""
		for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
			if v := getenv(name); v != "" && v != "C" && v != "POSIX" {
				locale = v
				break
			}
		}
	}

	code := strings.ToLower(locale)
	if i := strings.IndexAny(code, "-_.@"); i >= 0 {
		code = code[:i]
	}
	for _, a := range available {
		if a == code {
			return code
		}
	}
	return Fallback
}

func loadTable(code string) (map[string]string, error) {
	data, err := langFS.ReadFile("langs/" + code + ".json")
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", code, err)
	}
	table := make(map[string]string)
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", code, err)
	}
	return table, nil
}
