// Package gateway is the HTTP adapter for the WhatsApp sidecar service. It
// owns the collaborator boundary: roster shapes are normalized here and
// transport failures are classified into the shared error taxonomy exactly
// once, so nothing downstream inspects status codes or message text.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wa_group_ledger_bot/internal/domain"
	"wa_group_ledger_bot/internal/identity"
	"wa_group_ledger_bot/internal/logging"
)

const defaultRequestTimeout = 15 * time.Second

// Client talks to the gateway sidecar over HTTP.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *logrus.Entry
}

// NewClient builds a gateway client. token may be empty when the sidecar is
// unauthenticated.
func NewClient(baseURL, token string, logger *logrus.Entry) *Client {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: defaultRequestTimeout},
		logger:  logger,
	}
}

// groupPayload is the sidecar's group listing shape.
type groupPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// participantPayload tolerates both roster id shapes the sidecar emits: a
// plain serialized string or a structured id object.
type participantPayload struct {
	ID      json.RawMessage `json:"id"`
	IsAdmin bool            `json:"isAdmin"`
}

type structuredID struct {
	Serialized string `json:"_serialized"`
	User       string `json:"user"`
}

// ListGroups returns the groups the gateway account is currently a member of.
func (c *Client) ListGroups(ctx context.Context) ([]domain.Group, error) {
	var payload []groupPayload
	if err := c.do(ctx, http.MethodGet, "/groups", nil, nil, &payload); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	groups := make([]domain.Group, 0, len(payload))
	for _, g := range payload {
		if g.ID == "" {
			continue
		}
		groups = append(groups, domain.Group{GroupID: g.ID, Name: g.Name})
	}

	return groups, nil
}

// FetchParticipants returns the group roster. forceRefresh asks the sidecar
// to bypass its own session cache; the result may still be stale.
func (c *Client) FetchParticipants(ctx context.Context, groupID string, forceRefresh bool) ([]domain.Participant, error) {
	if groupID == "" {
		return nil, fmt.Errorf("fetch participants: %w", domain.ErrInvalidIdentifier)
	}

	query := url.Values{}
	if forceRefresh {
		query.Set("refresh", "1")
	}

	var payload []participantPayload
	path := "/groups/" + url.PathEscape(groupID) + "/participants"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &payload); err != nil {
		return nil, fmt.Errorf("fetch participants: %w", err)
	}

	roster := make([]domain.Participant, 0, len(payload))
	for _, p := range payload {
		participant, err := normalizeParticipant(p)
		if err != nil {
			c.logger.WithFields(logging.Fields{
				"event":    "roster_entry_skipped",
				"group_id": groupID,
			}).WithError(err).Warn("skipping unreadable roster entry")
			continue
		}
		roster = append(roster, participant)
	}

	return roster, nil
}

// SendToGroup delivers a structured notification payload. Delivery is
// at-least-once; callers tolerate duplicates on retry.
func (c *Client) SendToGroup(ctx context.Context, groupID string, payload domain.Notification) error {
	if groupID == "" {
		return fmt.Errorf("send to group: %w", domain.ErrInvalidIdentifier)
	}

	path := "/groups/" + url.PathEscape(groupID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, nil, payload, nil); err != nil {
		return fmt.Errorf("send to group: %w", err)
	}

	return nil
}

// Ping probes the sidecar health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, nil); err != nil {
		return fmt.Errorf("ping gateway: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrUpstreamUnavailable, err)
	}

	return nil
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: gateway returned %d", domain.ErrForbidden, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: gateway returned %d", domain.ErrNotFound, status)
	default:
		return fmt.Errorf("%w: gateway returned %d", domain.ErrUpstreamUnavailable, status)
	}
}

func normalizeParticipant(p participantPayload) (domain.Participant, error) {
	id, err := decodeParticipantID(p.ID)
	if err != nil {
		return domain.Participant{}, err
	}
	if id == "" {
		return domain.Participant{}, errors.New("empty participant id")
	}

	return domain.Participant{
		ID:      id,
		Phone:   identity.NormalizeIdentifier(id),
		IsAdmin: p.IsAdmin,
	}, nil
}

func decodeParticipantID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("missing participant id")
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain, nil
	}

	var structured structuredID
	if err := json.Unmarshal(raw, &structured); err != nil {
		return "", fmt.Errorf("unrecognized participant id shape: %w", err)
	}
	if structured.Serialized != "" {
		return structured.Serialized, nil
	}

	return structured.User, nil
}
