package session

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blive-greeting/domain"
)

var buvidPattern = regexp.MustCompile(`^[0-9A-F]{8}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{12}\d{5}infoc$`)

func TestParseCookies(t *testing.T) {
	data := []byte(`{
		"cookie_info": {
			"cookies": [
				{"name": "DedeUserID", "value": "123456"},
				{"name": "bili_jct", "value": "csrf-token"},
				{"name": "SESSDATA", "value": "sess"},
				{"name": "broken"},
				{"value": "orphan"}
			]
		}
	}`)

	creds, err := ParseCookies(data)
	require.NoError(t, err)

	uid, err := creds.UID()
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), uid)
	assert.Equal(t, "csrf-token", creds.CSRF())
	assert.Equal(t, "sess", creds["SESSDATA"])
	assert.NotContains(t, creds, "broken")
	assert.Len(t, creds, 4)
	assert.Regexp(t, buvidPattern, creds.Buvid())
}

func TestParseCookies_KeepsBuvid(t *testing.T) {
	data := []byte(`{"cookie_info":{"cookies":[{"name":"buvid3","value":"fixed"}]}}`)

	creds, err := ParseCookies(data)
	require.NoError(t, err)
	assert.Equal(t, "fixed", creds.Buvid())
}

func TestParseCookies_Invalid(t *testing.T) {
	_, err := ParseCookies([]byte("not json"))
	assert.Error(t, err)
}

func TestLoadCookies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cookie_info":{"cookies":[{"name":"DedeUserID","value":"7"}]}}`), 0o600))

	creds, err := LoadCookies(path)
	require.NoError(t, err)
	assert.Equal(t, "7", creds[domain.KeyUID])

	_, err = LoadCookies(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestGenerateBuvid3(t *testing.T) {
	now := time.Unix(1700000042, 0)

	id := GenerateBuvid3(now)

	assert.Regexp(t, buvidPattern, id)
	assert.Equal(t, "00042infoc", id[len(id)-10:])
	assert.NotEqual(t, id, GenerateBuvid3(now))
}

func TestGenerateBuvid3_AllDigitsRandom(t *testing.T) {
	versions := make(map[byte]bool)
	variants := make(map[byte]bool)
	for i := 0; i < 64; i++ {
		id := GenerateBuvid3(time.Unix(0, 0))
		versions[id[14]] = true
		variants[id[19]] = true
	}
	assert.Greater(t, len(versions), 1, "third group always starts with the same digit")
	assert.Greater(t, len(variants), 4, "fourth group starts from a restricted set")
}
