package fetch

// HeaderProfile is the set of browser-like headers a session presents for
// its whole lifetime.
type HeaderProfile struct {
	UserAgent      string            `mapstructure:"user_agent" yaml:"user_agent"`
	AcceptLanguage string            `mapstructure:"accept_language" yaml:"accept_language"`
	Accept         string            `mapstructure:"accept" yaml:"accept"`
	Extra          map[string]string `mapstructure:"extra" yaml:"extra"`
}

func (p HeaderProfile) headers() map[string]string {
	out := make(map[string]string, len(p.Extra)+3)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["User-Agent"] = p.UserAgent
	if p.AcceptLanguage != "" {
		out["Accept-Language"] = p.AcceptLanguage
	}
	if p.Accept != "" {
		out["Accept"] = p.Accept
	}
	return out
}

const acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"

// DefaultHeaderProfiles returns a small rotation of desktop browser profiles.
func DefaultHeaderProfiles() []HeaderProfile {
	return []HeaderProfile{
		{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			AcceptLanguage: "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
			Accept:         acceptHTML,
			Extra: map[string]string{
				"Sec-Ch-Ua":          `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
				"Sec-Ch-Ua-Platform": `"Windows"`,
			},
		},
		{
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
			AcceptLanguage: "ru-RU,ru;q=0.9",
			Accept:         acceptHTML,
		},
		{
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
			AcceptLanguage: "ru-RU,ru;q=0.8,en-US;q=0.5,en;q=0.3",
			Accept:         acceptHTML,
		},
	}
}
