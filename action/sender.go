// Package action posts chat messages into a live room.
package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"blive-greeting/directory"
	"blive-greeting/domain"
)

const (
	DefaultAPIURL = "https://api.live.bilibili.com"

	sendPath       = "/msg/send"
	defaultTimeout = 10 * time.Second
)

var ErrMissingCSRF = errors.New("action: missing bili_jct")

type Sender struct {
	APIURL  string
	PageURL string

	creds domain.Credentials
	http  *http.Client
	now   func() time.Time
}

func NewSender(creds domain.Credentials) *Sender {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = defaultTimeout
	return &Sender{
		APIURL:  DefaultAPIURL,
		PageURL: directory.DefaultPageURL,
		creds:   creds,
		http:    client,
		now:     time.Now,
	}
}

// SendGreeting posts the greeting for the current time of day.
func (s *Sender) SendGreeting(ctx context.Context, roomID uint32) error {
	return s.SendChat(ctx, roomID, GreetingWord(s.now()))
}

// SendChat posts msg to the room as the logged-in user.
func (s *Sender) SendChat(ctx context.Context, roomID uint32, msg string) error {
	csrf := s.creds.CSRF()
	if csrf == "" {
		return ErrMissingCSRF
	}

	room := strconv.FormatUint(uint64(roomID), 10)
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fields := [][2]string{
		{"bubble", "0"},
		{"msg", msg},
		{"color", "5816798"},
		{"mode", "1"},
		{"room_type", "0"},
		{"jumpfrom", "0"},
		{"reply_mid", "0"},
		{"reply_attr", "0"},
		{"replay_dmid", ""},
		{"fontsize", "25"},
		{"rnd", strconv.FormatInt(s.now().Unix(), 10)},
		{"roomid", room},
		{"csrf", csrf},
		{"csrf_token", csrf},
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("action: build form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("action: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.APIURL+sendPath, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Referer", s.PageURL+"/"+room)
	req.Header.Set("User-Agent", directory.UserAgent)
	req.Header.Set("Cookie", directory.CookieHeader(s.creds))

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("action: send chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("action: send chat: status %d", resp.StatusCode)
	}

	var result struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("action: read response: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("action: decode response: %w", err)
	}
	if result.Code != 0 {
		return &directory.APIError{Code: result.Code, Message: result.Message}
	}
	return nil
}
