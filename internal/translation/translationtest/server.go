// Package translationtest provides an in-process fake of the translation
// service: the session-storage API plus the per-session WebSocket.
package translationtest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skypro1111/call-translator/internal/translation"
)

// Options controls the fake service behaviour
type Options struct {
	ClientID     string // required ClientId header, empty accepts any
	ClientSecret string // required ClientSecret header, empty accepts any

	// FailCreates answers the first N create requests with 503
	FailCreates int
	// Echo sends every input audio chunk back as translated audio
	Echo bool
	// TranscriptEvery emits a partial and a translated transcription after
	// every N input audio messages; zero disables transcripts
	TranscriptEvery int
	// StringData encodes the data field of outgoing messages as a JSON string
	StringData bool
	// ProcessingDelay is slept before echoing audio
	ProcessingDelay time.Duration
}

// Server is a fake translation service
type Server struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	sessions map[string]*storedSession
	deleted  []string
	creates  int
	peers    []*Peer

	mu sync.Mutex
}

type storedSession struct {
	id        string
	publisher string
}

// Peer is one accepted WebSocket connection
type Peer struct {
	StorageID string

	conn     *websocket.Conn
	server   *Server
	task     *translation.TaskSettings
	received []translation.Message
	audioIn  int
	ended    bool
	taskSet  chan struct{}
	closed   chan struct{}

	writeMu sync.Mutex
	mu      sync.Mutex
}

// NewServer creates a fake service
func NewServer(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts:     opts,
		logger:   logger,
		mux:      http.NewServeMux(),
		sessions: make(map[string]*storedSession),
	}
	s.mux.HandleFunc("POST /session-storage/session", s.handleCreate)
	s.mux.HandleFunc("DELETE /session-storage/sessions/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /ws/{id}", s.handleWebSocket)
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.opts.ClientID != "" && r.Header.Get("ClientId") != s.opts.ClientID {
		return false
	}
	if s.opts.ClientSecret != "" && r.Header.Get("ClientSecret") != s.opts.ClientSecret {
		return false
	}
	return true
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	s.creates++
	if s.creates <= s.opts.FailCreates {
		s.mu.Unlock()
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	sess := &storedSession{id: uuid.NewString(), publisher: uuid.NewString()}
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]string{
			"id":        sess.id,
			"ws_url":    fmt.Sprintf("%s://%s/ws/%s", scheme, r.Host, sess.id),
			"publisher": sess.publisher,
		},
	})
	s.logger.Info("Storage session created", slog.String("storage_id", sess.id))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := r.PathValue("id")

	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	if ok {
		s.deleted = append(s.deleted, id)
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	s.logger.Info("Storage session deleted", slog.String("storage_id", id))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok || r.URL.Query().Get("token") != sess.publisher {
		http.Error(w, "invalid session token", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	peer := &Peer{
		StorageID: id,
		conn:      conn,
		server:    s,
		taskSet:   make(chan struct{}),
		closed:    make(chan struct{}),
	}
	s.mu.Lock()
	s.peers = append(s.peers, peer)
	s.mu.Unlock()

	peer.serve()
}

// Peers returns the accepted connections in connection order
func (s *Server) Peers() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Peer(nil), s.peers...)
}

// PeerFor returns the connection whose task translates from sourceLanguage
func (s *Server) PeerFor(sourceLanguage string) (*Peer, bool) {
	for _, p := range s.Peers() {
		if task := p.Task(); task != nil && task.Pipeline.Transcription.SourceLanguage == sourceLanguage {
			return p, true
		}
	}
	return nil, false
}

// WaitPeers blocks until n connections have received their task
func (s *Server) WaitPeers(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ready := 0
		for _, p := range s.Peers() {
			if p.Task() != nil {
				ready++
			}
		}
		if ready >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// Deleted returns the ids of deleted storage sessions
func (s *Server) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// Creates returns the number of create requests received
func (s *Server) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

func (p *Peer) serve() {
	defer close(p.closed)
	defer p.conn.Close()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := translation.DecodeMessage(data)
		if err != nil {
			p.server.logger.Warn("Fake service got malformed message", slog.String("error", err.Error()))
			continue
		}

		p.mu.Lock()
		p.received = append(p.received, msg)
		p.mu.Unlock()

		switch msg.MessageType {
		case translation.MsgSetTask:
			var task translation.TaskSettings
			if err := json.Unmarshal(msg.Data, &task); err != nil {
				p.server.logger.Warn("Fake service got invalid task", slog.String("error", err.Error()))
				continue
			}
			p.mu.Lock()
			first := p.task == nil
			p.task = &task
			p.mu.Unlock()
			if first {
				close(p.taskSet)
			}
			p.Send(translation.MsgCurrentTask, task)

		case translation.MsgInputAudio:
			p.handleAudio(msg)

		case translation.MsgEndTask:
			p.mu.Lock()
			p.ended = true
			p.mu.Unlock()
		}
	}
}

func (p *Peer) handleAudio(msg translation.Message) {
	var payload struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return
	}

	p.mu.Lock()
	p.audioIn++
	n := p.audioIn
	task := p.task
	p.mu.Unlock()

	opts := p.server.opts
	if opts.Echo {
		if opts.ProcessingDelay > 0 {
			time.Sleep(opts.ProcessingDelay)
		}
		p.Send(translation.MsgOutputAudio, map[string]string{"data": payload.Data})
	}

	if opts.TranscriptEvery > 0 && n%opts.TranscriptEvery == 0 && task != nil {
		source := task.Pipeline.Transcription.SourceLanguage
		target := ""
		if len(task.Pipeline.Translations) > 0 {
			target = task.Pipeline.Translations[0].TargetLanguage
		}
		segment := fmt.Sprintf("seg-%d", n/opts.TranscriptEvery)
		p.SendTranscription(translation.MsgPartialTranscript, segment, fmt.Sprintf("%s speech %s", source, segment), source)
		p.SendTranscription(translation.MsgTranslatedTranscript, segment, fmt.Sprintf("%s translation %s", target, segment), target)
	}
}

// Send writes a message of the given type to the client
func (p *Peer) Send(messageType string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if p.server.opts.StringData {
		raw, err = json.Marshal(string(raw))
		if err != nil {
			return err
		}
	}
	out, err := json.Marshal(translation.Message{MessageType: messageType, Data: raw})
	if err != nil {
		return err
	}
	return p.SendRaw(out)
}

// SendRaw writes raw bytes to the client
func (p *Peer) SendRaw(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// SendAudio writes an output_audio_data message with the given PCM
func (p *Peer) SendAudio(pcm []byte) error {
	return p.Send(translation.MsgOutputAudio, map[string]string{"data": base64.StdEncoding.EncodeToString(pcm)})
}

// SendTranscription writes a transcription message
func (p *Peer) SendTranscription(messageType, segmentID, text, language string) error {
	return p.Send(messageType, map[string]interface{}{
		"transcription": map[string]string{
			"transcription_id": segmentID,
			"text":             text,
			"language":         language,
		},
	})
}

// Close drops the connection without a close handshake
func (p *Peer) Close() error {
	return p.conn.Close()
}

// WaitTask blocks until set_task arrives or the timeout expires
func (p *Peer) WaitTask(timeout time.Duration) bool {
	select {
	case <-p.taskSet:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Task returns the configured task, nil before set_task
func (p *Peer) Task() *translation.TaskSettings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.task
}

// Received returns the decoded messages received so far
func (p *Peer) Received() []translation.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]translation.Message(nil), p.received...)
}

// AudioFrames returns the number of input_audio_data messages received
func (p *Peer) AudioFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.audioIn
}

// Ended reports whether end_task was received
func (p *Peer) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

// Closed returns a channel closed when the connection ends
func (p *Peer) Closed() <-chan struct{} {
	return p.closed
}

// HasMessage reports whether a message of the given type was received
func (p *Peer) HasMessage(messageType string) bool {
	for _, m := range p.Received() {
		if strings.EqualFold(m.MessageType, messageType) {
			return true
		}
	}
	return false
}
