// Package fakeapi serves an in-memory task manager with the task type
// endpoints the scenario exercises. It backs the tests and lets a run be
// tried locally without the real service.
package fakeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	DefaultHost  = "localhost"
	DefaultPort  = 8080
	DefaultLimit = 10
	maxLogs      = 1000
)

// Config configures the fake server
type Config struct {
	Host         string
	Port         int
	DefaultLimit int           // page size when the listing gets no limit
	CreateStatus int           // status returned on creation, 201 when zero
	Latency      time.Duration // added to every response
	Logging      bool          // keep a request log
}

// RequestLog is one served request
type RequestLog struct {
	Timestamp time.Time
	Method    string
	Path      string
	RequestID string
	Status    int
	Duration  time.Duration
}

// ErrorMessage mirrors the task manager's error body
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server is the fake task manager
type Server struct {
	config     Config
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server

	mu    sync.RWMutex
	order []string
	items map[string]map[string]any

	logs      []RequestLog
	logsMutex sync.RWMutex
}

// NewServer creates a fake server with an empty store
func NewServer(config Config, logger *slog.Logger) *Server {
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultLimit
	}
	if config.CreateStatus == 0 {
		config.CreateStatus = http.StatusCreated
	}
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config: config,
		logger: logger,
		items:  make(map[string]map[string]any),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	r.POST("/tasks", s.createTaskType)
	r.GET("/tasks", s.listTaskTypes)
	r.GET("/taskTypes/:id", s.getTaskType)
	r.DELETE("/taskTypes/:id", s.deleteTaskType)
	return r
}

// Handler exposes the routes, for httptest servers
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("fake task manager stopped", "error", err)
		}
	}()

	s.logger.Info("fake task manager listening", "address", s.Address())
	return nil
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Address returns the base URL of the server
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)))
}

// Seed stores n filler task types, returning their ids
func (s *Server) Seed(n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		doc := s.store(map[string]any{
			"name":         fmt.Sprintf("seeded task type %d", i),
			"transactions": []any{},
		})
		ids = append(ids, doc["id"].(string))
	}
	return ids
}

// Count returns the number of stored task types
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Server) createTaskType(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorMessage{Code: "bad_task_type", Message: err.Error()})
		return
	}
	if name, _ := body["name"].(string); name == "" {
		c.JSON(http.StatusBadRequest, ErrorMessage{Code: "bad_task_type.name", Message: "a task type needs a name"})
		return
	}

	c.JSON(s.config.CreateStatus, s.store(body))
}

// store assigns the server managed fields and saves the task type
func (s *Server) store(body map[string]any) map[string]any {
	now := time.Now().Unix()
	doc := make(map[string]any, len(body)+3)
	for k, v := range body {
		doc[k] = v
	}
	doc["id"] = uuid.NewString()
	doc["_creationTs"] = now
	doc["_lastUpdateTs"] = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[doc["id"].(string)] = doc
	s.order = append(s.order, doc["id"].(string))
	return doc
}

func (s *Server) getTaskType(c *gin.Context) {
	s.mu.RLock()
	doc, ok := s.items[c.Param("id")]
	s.mu.RUnlock()

	if !ok {
		c.JSON(http.StatusNotFound, notFound(c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) listTaskTypes(c *gin.Context) {
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, ErrorMessage{Code: "bad_offset", Message: "offset must be a positive integer"})
		return
	}
	limit, err := queryInt(c, "limit", s.config.DefaultLimit)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, ErrorMessage{Code: "bad_limit", Message: "limit must be greater than zero"})
		return
	}

	s.mu.RLock()
	total := len(s.order)
	entries := make([]map[string]any, 0, limit)
	for i := offset; i < total && len(entries) < limit; i++ {
		entries = append(entries, s.items[s.order[i]])
	}
	s.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"offset":    offset,
		"total":     total,
		"taskTypes": entries,
	})
}

func (s *Server) deleteTaskType(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	_, ok := s.items[id]
	if ok {
		delete(s.items, id)
		for i, existing := range s.order {
			if existing == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, notFound(id))
		return
	}
	c.Status(http.StatusNoContent)
}

func notFound(id string) ErrorMessage {
	return ErrorMessage{Code: "not_found_task_type", Message: fmt.Sprintf("no task type associated to %q", id)}
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// logRequests applies the configured latency and keeps the request log
func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		if s.config.Latency > 0 {
			time.Sleep(s.config.Latency)
		}

		c.Next()

		if !s.config.Logging {
			return
		}
		s.logRequest(RequestLog{
			Timestamp: start,
			Method:    c.Request.Method,
			Path:      c.Request.URL.RequestURI(),
			RequestID: c.GetHeader("X-Request-ID"),
			Status:    c.Writer.Status(),
			Duration:  time.Since(start),
		})
	}
}

func (s *Server) logRequest(entry RequestLog) {
	s.logsMutex.Lock()
	defer s.logsMutex.Unlock()

	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[len(s.logs)-maxLogs:]
	}
}

// GetLogs returns a copy of the request log
func (s *Server) GetLogs() []RequestLog {
	s.logsMutex.RLock()
	defer s.logsMutex.RUnlock()

	logs := make([]RequestLog, len(s.logs))
	copy(logs, s.logs)
	return logs
}

// ClearLogs empties the request log
func (s *Server) ClearLogs() {
	s.logsMutex.Lock()
	defer s.logsMutex.Unlock()

	s.logs = nil
}
