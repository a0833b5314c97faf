// Package notify forwards short text notices to a OneBot compatible QQ bot.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

const defaultTimeout = 10 * time.Second

type PeerKind int

const (
	Friend PeerKind = iota
	Group
)

type Peer struct {
	Kind PeerKind
	ID   int64
}

type OneBot struct {
	endpoint string
	token    string
	http     *http.Client
}

func NewOneBot(endpoint, token string) *OneBot {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = defaultTimeout
	return &OneBot{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		http:     client,
	}
}

func (b *OneBot) SendMessage(ctx context.Context, peer Peer, message string) error {
	idKey := "user_id"
	if peer.Kind == Group {
		idKey = "group_id"
	}
	payload, err := json.Marshal(map[string]any{
		idKey:     peer.ID,
		"message": message,
	})
	if err != nil {
		return fmt.Errorf("notify: encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/send_msg", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify: send message: status %d", resp.StatusCode)
	}
	return nil
}
