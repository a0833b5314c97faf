package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"blive-greeting/greeting"
	"blive-greeting/websocket"
)

type Config struct {
	LogLevel          slog.Level
	Port              string
	CookiesFile       string
	RoomsFile         string
	HeartbeatInterval time.Duration
	GreetingDebounce  time.Duration

	OneBotEndpoint string
	OneBotToken    string
	OneBotGroup    int64
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	return FromEnv(os.Getenv)
}

func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		LogLevel:          ParseLevel(getenv("LOG_LEVEL")),
		Port:              withDefault(getenv("PORT"), "8080"),
		CookiesFile:       withDefault(getenv("COOKIES_FILE"), "cookies.json"),
		RoomsFile:         withDefault(getenv("ROOMS_FILE"), "rooms.txt"),
		HeartbeatInterval: websocket.DefaultHeartbeatInterval,
		GreetingDebounce:  greeting.DefaultDebounce,
		OneBotEndpoint:    getenv("ONEBOT_ENDPOINT"),
		OneBotToken:       getenv("ONEBOT_TOKEN"),
	}

	var err error
	if v := getenv("HEARTBEAT_INTERVAL"); v != "" {
		if cfg.HeartbeatInterval, err = parsePositiveDuration(v); err != nil {
			return nil, fmt.Errorf("config: HEARTBEAT_INTERVAL: %w", err)
		}
	}
	if v := getenv("GREETING_DEBOUNCE"); v != "" {
		if cfg.GreetingDebounce, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("config: GREETING_DEBOUNCE: %w", err)
		}
	}
	if v := getenv("ONEBOT_GROUP"); v != "" {
		if cfg.OneBotGroup, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("config: ONEBOT_GROUP: %w", err)
		}
	}
	return cfg, nil
}

func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadRooms reads one room id per line. Blank lines and lines starting with
// '#' are skipped.
func LoadRooms(path string) ([]uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open rooms: %w", err)
	}
	defer f.Close()

	var rooms []uint32
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		id, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("config: rooms line %d: invalid room id %q", line, text)
		}
		rooms = append(rooms, uint32(id))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read rooms: %w", err)
	}
	return rooms, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parsePositiveDuration(v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}
