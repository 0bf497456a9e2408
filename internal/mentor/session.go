package mentor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ksred/skyline-api/internal/gateway"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// SampleRate of the PCM audio exchanged in both directions
const SampleRate = 24000

// errSessionEnded stops the sibling task when one side hangs up normally
var errSessionEnded = errors.New("mentor session ended")

// Conn is the subset of *websocket.Conn a session uses
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// upstreamEvent covers the realtime events the session reacts to
type upstreamEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta,omitempty"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// control is a text frame sent to the browser
type control struct {
	Type       string `json:"type"`
	Seq        int    `json:"seq,omitempty"`
	PlayAtMs   *int64 `json:"play_at_ms,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Cancelled  int    `json:"cancelled,omitempty"`
	Text       string `json:"text,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Session bridges one browser socket to one upstream realtime socket
type Session struct {
	ID       string
	browser  Conn
	upstream Conn
	playback *Playback
	// clock returns the time elapsed since the session started
	clock  func() time.Duration
	logger zerolog.Logger
}

// NewSession creates a session over two connected sockets
func NewSession(id string, browser, upstream Conn) *Session {
	started := time.Now()
	return &Session{
		ID:       id,
		browser:  browser,
		upstream: upstream,
		playback: &Playback{},
		clock:    func() time.Duration { return time.Since(started) },
		logger:   log.With().Str("component", "mentor").Str("session_id", id).Logger(),
	}
}

// Configure sends the system prompt and audio format upstream. It must run
// before Run.
func (s *Session) Configure(systemPrompt string) error {
	update := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"instructions":        systemPrompt,
			"modalities":          []string{"audio", "text"},
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"turn_detection":      map[string]string{"type": "server_vad"},
		},
	}
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return s.upstream.WriteMessage(websocket.TextMessage, data)
}

// Run relays audio until either side hangs up, ctx ends or a socket fails.
// Both sockets are closed when it returns. A normal hang-up returns nil.
func (s *Session) Run(parent context.Context) error {
	g, ctx := errgroup.WithContext(parent)

	g.Go(func() error { return s.capture() })
	g.Go(func() error { return s.receive() })
	g.Go(func() error {
		// closing the sockets unblocks whichever read is still waiting
		<-ctx.Done()
		s.browser.Close()
		s.upstream.Close()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, errSessionEnded) || parent.Err() != nil {
		s.logger.Info().Msg("mentor session ended")
		return nil
	}
	s.logger.Warn().Err(err).Msg("mentor session failed")
	return err
}

// capture forwards browser microphone frames upstream
func (s *Session) capture() error {
	for {
		kind, data, err := s.browser.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errSessionEnded
			}
			return fmt.Errorf("browser read: %w", err)
		}

		switch kind {
		case websocket.BinaryMessage:
			event, err := json.Marshal(map[string]string{
				"type":  "input_audio_buffer.append",
				"audio": base64.StdEncoding.EncodeToString(data),
			})
			if err != nil {
				return err
			}
			if err := s.upstream.WriteMessage(websocket.TextMessage, event); err != nil {
				return fmt.Errorf("upstream write: %w", err)
			}
		case websocket.TextMessage:
			var msg control
			if json.Unmarshal(data, &msg) == nil && msg.Type == "stop" {
				return errSessionEnded
			}
		}
	}
}

// receive plays upstream speech into the browser on the playback schedule
func (s *Session) receive() error {
	for {
		_, data, err := s.upstream.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errSessionEnded
			}
			return fmt.Errorf("upstream read: %w", err)
		}

		var event upstreamEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.logger.Debug().Err(err).Msg("ignoring malformed upstream event")
			continue
		}

		switch event.Type {
		case "response.audio.delta":
			audio, err := base64.StdEncoding.DecodeString(event.Delta)
			if err != nil {
				s.logger.Debug().Err(err).Msg("ignoring undecodable audio delta")
				continue
			}
			chunk := s.playback.Schedule(s.clock(), PCMDuration(len(audio), SampleRate))
			playAt := chunk.Start.Milliseconds()
			if err := s.send(control{
				Type:       "chunk",
				Seq:        chunk.Seq,
				PlayAtMs:   &playAt,
				DurationMs: (chunk.End - chunk.Start).Milliseconds(),
			}); err != nil {
				return err
			}
			if err := s.browser.WriteMessage(websocket.BinaryMessage, audio); err != nil {
				return fmt.Errorf("browser write: %w", err)
			}

		case "input_audio_buffer.speech_started":
			cancelled := s.playback.Interrupt(s.clock())
			if err := s.send(control{Type: "interrupted", Cancelled: len(cancelled)}); err != nil {
				return err
			}

		case "response.audio_transcript.delta":
			if err := s.send(control{Type: "transcript", Text: event.Delta}); err != nil {
				return err
			}

		case "error":
			upErr := fmt.Errorf("%w: upstream error", gateway.ErrUnavailable)
			if event.Error != nil {
				if event.Error.Code == "invalid_api_key" {
					upErr = fmt.Errorf("%w: %s", gateway.ErrInvalidKey, event.Error.Message)
				} else {
					upErr = fmt.Errorf("%w: %s", gateway.ErrUnavailable, event.Error.Message)
				}
			}
			// best effort, the session is ending anyway
			_ = s.send(control{Type: "error", Status: gateway.Status(upErr)})
			return upErr
		}
	}
}

func (s *Session) send(msg control) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.browser.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("browser write: %w", err)
	}
	return nil
}
