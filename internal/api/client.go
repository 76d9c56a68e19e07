// Package api is the REST side of the backend contract: channel metadata,
// message CRUD, reactions, pins, uploads, and call lifecycle. Every request
// carries the bearer token. Mutating calls are confirmation-driven: the
// caller applies no local state change until the matching broadcast event
// arrives on the socket.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/teamgrid/collabcore/internal/model"
	"github.com/teamgrid/collabcore/internal/util"
)

// APIError is a non-2xx response decoded from the server. Message is the
// server-provided text when present, empty otherwise.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: request failed with status %d", e.Status)
}

// Client talks to the REST backend.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New creates a Client for the given base URL and bearer token.
func New(base, token string) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: util.DefaultFetchTimeout},
	}
}

// Channel fetches channel metadata.
func (c *Client) Channel(ctx context.Context, channelID string) (*model.Channel, error) {
	var ch model.Channel
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID, nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// Participants fetches the current member ids of a channel.
func (c *Client) Participants(ctx context.Context, channelID string) ([]model.FlexID, error) {
	var ids []model.FlexID
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID+"/participants", nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Messages fetches the initial message page for a channel.
func (c *Client) Messages(ctx context.Context, channelID string) ([]model.Message, error) {
	var msgs []model.Message
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessageRequest is the body of a plain text send.
type SendMessageRequest struct {
	ChannelID string       `json:"channelId"`
	Text      string       `json:"text"`
	ReplyToID model.FlexID `json:"replyToId,omitempty"`
}

// SendMessage posts a text message. The response body is NOT the canonical
// broadcast copy; confirmation arrives via the channel's message topic.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("api: refusing to send empty message")
	}
	return c.do(ctx, http.MethodPost, "/messages", req, nil)
}

// EditMessage replaces the text of a message.
func (c *Client) EditMessage(ctx context.Context, messageID, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("api: refusing to edit to empty text")
	}
	body := map[string]string{"text": text}
	return c.do(ctx, http.MethodPut, "/messages/"+messageID, body, nil)
}

// DeleteMessage deletes a message. The store removal happens when the
// tombstone event arrives.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+messageID, nil, nil)
}

// SetPinned pins or unpins a message.
func (c *Client) SetPinned(ctx context.Context, messageID string, pinned bool) error {
	body := map[string]bool{"pinned": pinned}
	return c.do(ctx, http.MethodPut, "/messages/"+messageID+"/pin", body, nil)
}

// React adds a reaction.
func (c *Client) React(ctx context.Context, messageID, emoji string) error {
	body := map[string]string{"emoji": emoji}
	return c.do(ctx, http.MethodPost, "/messages/"+messageID+"/reactions", body, nil)
}

// Unreact removes a reaction.
func (c *Client) Unreact(ctx context.Context, messageID, emoji string) error {
	body := map[string]string{"emoji": emoji}
	return c.do(ctx, http.MethodDelete, "/messages/"+messageID+"/reactions", body, nil)
}

// Upload posts an attachment (image, file, or audio clip) as multipart form
// data. durationSec is only meaningful for audio and ignored otherwise.
func (c *Client) Upload(ctx context.Context, channelID, filename, mimeType string, data io.Reader, durationSec int) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("api: build upload: %w", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return fmt.Errorf("api: read attachment: %w", err)
	}
	_ = w.WriteField("channelId", channelID)
	_ = w.WriteField("mimeType", mimeType)
	if durationSec > 0 {
		_ = w.WriteField("duration", fmt.Sprintf("%d", durationSec))
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("api: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/uploads", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	httpc := &http.Client{Timeout: util.UploadTimeout}
	resp, err := httpc.Do(req)
	if err != nil {
		return fmt.Errorf("api: upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	return nil
}

// CreateCall asks the server to start a call in a channel.
func (c *Client) CreateCall(ctx context.Context, channelID string, kind model.CallKind) (*model.Call, error) {
	body := map[string]any{"channelId": channelID, "type": kind}
	var call model.Call
	if err := c.do(ctx, http.MethodPost, "/calls", body, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// EndCall notifies the server that the local user left/ended the call.
func (c *Client) EndCall(ctx context.Context, callID string) error {
	return c.do(ctx, http.MethodPut, "/calls/"+callID+"/end", nil, nil)
}

// do performs one JSON round trip. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("api: decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// decodeError extracts {"message": ...} or {"error": ...} from an error
// response, falling back to the bare status.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&payload); err == nil {
		if payload.Message != "" {
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = payload.Error
		}
	}
	return apiErr
}
