package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/audiolibrelab/smrec/internal/action"
	"github.com/audiolibrelab/smrec/internal/audio"
	"github.com/audiolibrelab/smrec/internal/service"
)

// StatusProvider reports the recorder state
type StatusProvider interface {
	Status() service.Status
}

// Server exposes recorder control over HTTP. Start and stop requests are fed
// into the same action bus as the MIDI and OSC sources.
type Server struct {
	sender    action.Sender
	status    StatusProvider
	outputDir string

	listener net.Listener
	srv      *http.Server
}

// SessionEntry describes one recorded session directory
type SessionEntry struct {
	Name     string      `json:"name"`
	Modified string      `json:"modified"`
	Files    []FileEntry `json:"files"`
}

// FileEntry describes one channel file of a session
type FileEntry struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"size_human"`
}

// New creates a server. outputDir is the base directory sessions are
// written to.
func New(sender action.Sender, status StatusProvider, outputDir string) *Server {
	s := &Server{
		sender:    sender,
		status:    status,
		outputDir: outputDir,
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	return mux
}

// Listen binds addr without serving yet
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	slog.Info("Starting HTTP control server", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, nil before Listen
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve blocks until Shutdown
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, action.StartAction, "Start requested")
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, action.StopAction, "Stop requested")
}

// handleCommand queues a and answers 202; the outcome is reported through
// the status endpoint and the notifiers.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, a action.Action, message string) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed",
			"path", r.URL.Path, "method", r.Method)
		return
	}

	slog.Debug("HTTP trigger", "action", a.String(), "remote", r.RemoteAddr)
	s.sender.Send(a)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": message,
	})
}

// handleStatus returns the current state and live session
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed",
			"path", r.URL.Path, "method", r.Method)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.status.Status())
}

// handleSessions lists the session directories under the output directory,
// newest first
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed",
			"path", r.URL.Path, "method", r.Method)
		return
	}

	sessions, err := listSessions(s.outputDir)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to read output directory: %v", err),
			"output_dir", s.outputDir)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sessions": sessions,
	})
}

func listSessions(dir string) ([]SessionEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	sessions := []SessionEntry{}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "rec_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			slog.Warn("Failed to get session info", "session", entry.Name(), "error", err)
			continue
		}

		session := SessionEntry{
			Name:     entry.Name(),
			Modified: info.ModTime().Format("2006-01-02 15:04:05"),
			Files:    []FileEntry{},
		}
		files, err := os.ReadDir(filepath.Join(dir, entry.Name()))
		if err != nil {
			slog.Warn("Failed to read session directory", "session", entry.Name(), "error", err)
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), ".wav") {
				continue
			}
			fi, err := f.Info()
			if err != nil {
				continue
			}
			session.Files = append(session.Files, FileEntry{
				Name:      f.Name(),
				Size:      fi.Size(),
				SizeHuman: formatBytes(fi.Size()),
			})
		}
		sessions = append(sessions, session)
	}

	sort.Slice(sessions, func(i, j int) bool {
		bi, ni := sessionOrder(sessions[i].Name)
		bj, nj := sessionOrder(sessions[j].Name)
		if bi != bj {
			return bi > bj
		}
		return ni > nj
	})
	return sessions, nil
}

// sessionOrder splits rec_<timestamp>[_n] into the timestamped base and the
// collision counter, 1 when absent
func sessionOrder(name string) (string, int) {
	baseLen := len("rec_") + len(audio.SessionDirLayout)
	if len(name) <= baseLen+1 || name[baseLen] != '_' {
		return name, 1
	}
	n, err := strconv.Atoi(name[baseLen+1:])
	if err != nil {
		return name, 1
	}
	return name[:baseLen], n
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// sendErrorResponse logs the error with context and writes a JSON error body
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}
