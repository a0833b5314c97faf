// Package session turns the login flow's cookie file into the credential map
// the relay connection and the action sender consume.
package session

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"blive-greeting/domain"
)

type cookieFile struct {
	CookieInfo struct {
		Cookies []struct {
			Name  *string `json:"name"`
			Value *string `json:"value"`
		} `json:"cookies"`
	} `json:"cookie_info"`
}

// LoadCookies reads a login cookie file. Entries without a name or value are
// skipped. A buvid3 is generated when the file carries none.
func LoadCookies(path string) (domain.Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read cookies: %w", err)
	}
	return ParseCookies(data)
}

func ParseCookies(data []byte) (domain.Credentials, error) {
	var f cookieFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("session: parse cookies: %w", err)
	}

	creds := make(domain.Credentials, len(f.CookieInfo.Cookies)+1)
	for _, c := range f.CookieInfo.Cookies {
		if c.Name == nil || c.Value == nil {
			continue
		}
		creds[*c.Name] = *c.Value
	}
	if creds[domain.KeyBuvid3] == "" {
		creds[domain.KeyBuvid3] = GenerateBuvid3(time.Now())
	}
	return creds, nil
}

// GenerateBuvid3 returns a browser id in the web client's format: five
// upper-case hex groups of 8-4-4-4-12 random digits, the last four digits of
// the unix time padded to five, and the "infoc" suffix.
func GenerateBuvid3(now time.Time) string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("session: read random: %v", err))
	}
	return fmt.Sprintf("%X-%X-%X-%X-%X%05dinfoc", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16], now.Unix()%10000)
}
