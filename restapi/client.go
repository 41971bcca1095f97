// Package restapi implements the REST collaborator behind the engine.
// Endpoint shapes follow the backend contract: timestamps are epoch
// milliseconds, loaded messages carry an audio_path when they are
// voice, and the anonymizer returns only synthesized output.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"

	"room-engine/contract"
	"room-engine/domain"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

var _ contract.RestAPI = (*Client)(nil)

func NewClient(baseURL string, httpClient *http.Client, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, log: log}
}

type wireMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
	AudioPath string `json:"audio_path,omitempty"`
}

type sentMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

type publishedVoice struct {
	ID        string `json:"id"`
	AudioURL  string `json:"audioUrl"`
	CreatedAt int64  `json:"createdAt"`
}

type anonymizedVoice struct {
	Transcript string `json:"transcript"`
	AudioURL   string `json:"audioUrl"`
}

type translation struct {
	TranslatedText string `json:"translatedText"`
}

func (c *Client) LoadMessages(ctx context.Context, room string) ([]domain.Message, error) {
	endpoint := fmt.Sprintf("%s/messages?room=%s", c.baseURL, url.QueryEscape(room))
	var wire []wireMessage
	if err := c.getJSON(ctx, endpoint, &wire); err != nil {
		return nil, fmt.Errorf("load messages for room %q: %w", room, err)
	}
	return lo.Map(wire, func(m wireMessage, _ int) domain.Message {
		return fromWire(m, room, c.baseURL)
	}), nil
}

func (c *Client) SendText(ctx context.Context, room, userID, content string) (domain.Message, error) {
	body := map[string]string{"room": room, "userId": userID, "content": content}
	var saved sentMessage
	if err := c.postJSON(ctx, c.baseURL+"/messages", body, &saved); err != nil {
		return domain.Message{}, fmt.Errorf("send text to room %q: %w", room, err)
	}
	createdAt := time.UnixMilli(saved.CreatedAt)
	if saved.CreatedAt == 0 {
		createdAt = time.Now()
	}
	return domain.Message{
		ID:        saved.ID,
		Room:      room,
		AuthorID:  userID,
		Kind:      domain.KindText,
		Text:      saved.Content,
		CreatedAt: createdAt,
	}, nil
}

func (c *Client) DeleteMessage(ctx context.Context, id, userID string) error {
	endpoint := fmt.Sprintf("%s/messages/%s?userId=%s",
		c.baseURL, url.PathEscape(id), url.QueryEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()
	return checkStatus(resp)
}

func (c *Client) PublishVoice(ctx context.Context, room, userID string, audio []byte) (domain.Message, error) {
	fields := map[string]string{"room": room, "userId": userID}
	var saved publishedVoice
	if err := c.postAudio(ctx, c.baseURL+"/messages/audio", audio, fields, &saved); err != nil {
		return domain.Message{}, fmt.Errorf("publish voice to room %q: %w", room, err)
	}
	return domain.Message{
		ID:          saved.ID,
		Room:        room,
		AuthorID:    userID,
		Kind:        domain.KindVoice,
		AudioRef:    saved.AudioURL,
		CreatedAt:   time.UnixMilli(saved.CreatedAt),
		UploadState: domain.UploadPublished,
	}, nil
}

func (c *Client) AnonymizeVoice(ctx context.Context, audio []byte) (contract.AnonymizedVoice, error) {
	var out anonymizedVoice
	if err := c.postAudio(ctx, c.baseURL+"/voice/anonymize", audio, nil, &out); err != nil {
		return contract.AnonymizedVoice{}, fmt.Errorf("anonymize voice: %w", err)
	}
	return contract.AnonymizedVoice{Transcript: out.Transcript, AudioURL: out.AudioURL}, nil
}

func (c *Client) Translate(ctx context.Context, text, target string) (string, error) {
	body := map[string]string{"text": text, "target": target}
	var out translation
	if err := c.postJSON(ctx, c.baseURL+"/translate", body, &out); err != nil {
		return "", fmt.Errorf("translate to %q: %w", target, err)
	}
	return out.TranslatedText, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// postAudio uploads the clip as a multipart form. The part's content
// type is sniffed from the bytes so the backend sees audio/wav or
// audio/webm rather than application/octet-stream.
func (c *Client) postAudio(ctx context.Context, endpoint string, audio []byte, fields map[string]string, out any) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	mime := mimetype.Detect(audio)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="audio"; filename="voice`+mime.Extension()+`"`)
	header.Set("Content-Type", mime.String())
	part, err := writer.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err = part.Write(audio); err != nil {
		return err
	}
	for name, value := range fields {
		if err = writer.WriteField(name, value); err != nil {
			return err
		}
	}
	if err = writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err = checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s %s: status %d: %s",
		resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
}

// fromWire maps a loaded message. Voice messages are identified by the
// presence of audio_path; their public URL lives under /uploads/audio.
func fromWire(m wireMessage, room, baseURL string) domain.Message {
	out := domain.Message{
		ID:        m.ID,
		Room:      room,
		Kind:      domain.KindText,
		Text:      m.Content,
		CreatedAt: time.UnixMilli(m.CreatedAt),
	}
	if m.AudioPath != "" {
		out.Kind = domain.KindVoice
		out.Text = ""
		out.AudioRef = baseURL + "/uploads/audio/" + m.AudioPath
		out.UploadState = domain.UploadPublished
	}
	return out
}
