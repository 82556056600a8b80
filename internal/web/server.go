package web

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"image-compressor/internal/blobstore"
	"image-compressor/internal/compressor"
	"image-compressor/internal/config"
	"image-compressor/internal/logger"
	"image-compressor/internal/orchestrator"
	"image-compressor/internal/prober"
	"image-compressor/internal/session"
	"image-compressor/internal/state"
	"image-compressor/internal/statistics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/sirupsen/logrus"
)

//go:embed static/index.html
var indexHTML []byte

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader

	sessions *session.Manager
	blobs    *blobstore.Store
	stats    *statistics.Statistics

	// background compressions stop when the server does
	ctx    context.Context
	cancel context.CancelFunc
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type ParametersRequest struct {
	Quality   *float64 `json:"quality"`
	SizeRatio *float64 `json:"size_ratio"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(
	cfg *config.Config,
	log *logrus.Logger,
	sessions *session.Manager,
	blobs *blobstore.Store,
	stats *statistics.Statistics,
) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		log:      log,
		router:   mux.NewRouter(),
		sessions: sessions,
		blobs:    blobs,
		stats:    stats,
		ctx:      ctx,
		cancel:   cancel,
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/image", s.handleSelectImage).Methods("POST")
	api.HandleFunc("/sessions/{id}/parameters", s.handleUpdateParameters).Methods("PATCH")
	api.HandleFunc("/sessions/{id}/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/sessions/{id}/download", s.handleDownload).Methods("GET")
	api.HandleFunc("/previews/{id}", s.handlePreview).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the router wrapped in gzip compression. WebSocket
// upgrades bypass the wrapper since they need to hijack the connection.
func (s *Server) Handler() http.Handler {
	gz := gzhttp.GzipHandler(s.router)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.router.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

// Start listens on the configured address and blocks until Stop.
func (s *Server) Start() error {
	s.httpServer = s.newHTTPServer()

	go s.sessions.RunSweeper(s.ctx, s.cfg.Server.SweepInterval)

	s.log.Infof("Starting web server on http://%s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) newHTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
}

func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.sessions.CloseAll()
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"sessions":      s.sessions.Len(),
			"previews":      s.blobs.Len(),
			"preview_bytes": statistics.FormatBytes(s.blobs.Bytes()),
			"uptime":        time.Since(s.stats.StartTime).Round(time.Second).String(),
		},
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":  s.stats.GetSummary(),
			"counters": s.stats.Snapshot(),
		},
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	s.writeJSONStatus(w, http.StatusCreated, APIResponse{
		Success: true,
		Message: "Session created",
		Data:    NewSessionView(sess.ID, sess.Orchestrator),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: NewSessionView(sess.ID, sess.Orchestrator)})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.sessions.Delete(id); err != nil {
		s.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Message: "Session closed"})
}

func (s *Server) handleSelectImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadSize)
	if err := r.ParseMultipartForm(s.cfg.Server.MaxUploadSize); err != nil {
		s.writeError(w, fmt.Sprintf("Invalid upload: %v", err), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, "File is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read upload: %v", err), http.StatusBadRequest)
		return
	}

	err = sess.Orchestrator.SelectImage(orchestrator.File{
		Name:      header.Filename,
		MediaType: header.Header.Get("Content-Type"),
		Data:      data,
	})
	if err != nil {
		s.writeError(w, err.Error(), statusFor(err))
		return
	}

	logger.WithSession(s.log, sess.ID).WithField("file", header.Filename).Debug("Upload accepted")
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Image selected",
		Data:    NewSessionView(sess.ID, sess.Orchestrator),
	})
}

func (s *Server) handleUpdateParameters(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req ParametersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Quality != nil && !validFraction(*req.Quality) {
		s.writeError(w, "quality must be in (0, 1]", http.StatusBadRequest)
		return
	}
	if req.SizeRatio != nil && !validFraction(*req.SizeRatio) {
		s.writeError(w, "size_ratio must be in (0, 1]", http.StatusBadRequest)
		return
	}

	params := sess.Orchestrator.UpdateParameters(state.ParameterUpdate{
		Quality:   req.Quality,
		SizeRatio: req.SizeRatio,
	})
	s.writeJSON(w, APIResponse{Success: true, Data: params})
}

// handleCompress starts a compression in the background and answers 202.
// With ?wait=true it answers once the compression has finished.
func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	orch := sess.Orchestrator

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		if err := orch.Compress(r.Context()); err != nil {
			s.writeError(w, err.Error(), statusFor(err))
			return
		}
		s.writeJSON(w, APIResponse{
			Success: true,
			Message: "Compression finished",
			Data:    NewSessionView(sess.ID, orch),
		})
		return
	}

	done, err := orch.CompressAsync()
	if err != nil {
		s.writeError(w, err.Error(), statusFor(err))
		return
	}
	go func() {
		if err := <-done; err != nil {
			logger.WithSession(s.log, sess.ID).Debugf("Background compression ended: %v", err)
		}
	}()

	s.writeJSONStatus(w, http.StatusAccepted, APIResponse{Success: true, Message: "Compression started"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	name, data, mediaType, err := sess.Orchestrator.Download()
	if err != nil {
		s.writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	blob, ok := s.blobs.Get(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "Preview not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", blob.MediaType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(blob.Data)
}

// handleWebSocket pushes the session view after every state change.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.URL.Query().Get("session"))
	if err != nil {
		s.writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log := logger.WithSession(s.log, sess.ID)
	log.Debug("WebSocket client connected")

	// Listeners must not block, so changes only raise a flag and the
	// writer sends the latest view.
	changed := make(chan struct{}, 1)
	unsubscribe := sess.Orchestrator.Subscribe(func(state.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			sess.Touch()
		}
	}()

	send := func() error {
		return conn.WriteJSON(WSMessage{Type: "state", Data: NewSessionView(sess.ID, sess.Orchestrator)})
	}
	if err := send(); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			log.Debug("WebSocket client disconnected")
			return
		case <-s.ctx.Done():
			return
		case <-changed:
			if err := send(); err != nil {
				log.Errorf("Failed to write WebSocket message: %v", err)
				return
			}
		}
	}
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

// statusFor maps orchestrator errors to HTTP status codes.
func statusFor(err error) int {
	var invalid *orchestrator.InvalidInputError
	var decodeErr *prober.DecodeError
	var compErr *compressor.CompressionError
	switch {
	case errors.Is(err, orchestrator.ErrNoSource):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrCompressionInFlight):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusGone
	case errors.As(err, &invalid):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &decodeErr), errors.As(err, &compErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func validFraction(v float64) bool {
	return v > 0 && v <= 1
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSONStatus(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}
