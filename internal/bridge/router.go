package bridge

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deskwright/shellcore/internal/metrics"
	"github.com/deskwright/shellcore/internal/supervisor"
	"github.com/deskwright/shellcore/internal/validate"
)

// Router is the only surface reachable from the untrusted UI process.
// Endpoints:
//
//	POST {basePath}/execute   body: {"command": "...", "args": [...]}
//	POST {basePath}/cancel    query: id=...
//	GET  {basePath}/status    query: id=...
//	GET  {basePath}/list
//	GET  {basePath}/events    websocket push of output/exit/error events
//
// The router forwards enumerated command names and opaque record ids only; it
// never accepts OS pids, file paths, or raw command strings for execution.
type Router struct {
	sup      *supervisor.Supervisor
	basePath string
}

func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/execute", r.handleExecute)
	group.POST("/cancel", r.handleCancel)
	group.GET("/status", r.handleStatus)
	group.GET("/list", r.handleList)
	group.GET("/events", r.handleEvents)
	g.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, sup *supervisor.Supervisor) (*http.Server, error) {
	r := NewRouter(sup, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- wire types ---

type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type execReq struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

type execResp struct {
	ID string `json:"id"`
}

// recordView is the projection of a supervisor record handed to the UI.
// It carries exactly the modeled fields and nothing else; in particular no
// OS process id ever crosses the boundary.
type recordView struct {
	ID        string     `json:"id"`
	Command   string     `json:"command"`
	Args      []string   `json:"args"`
	Status    string     `json:"status"`
	Stdout    []string   `json:"stdout"`
	Stderr    []string   `json:"stderr"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
}

func viewOf(rec supervisor.Record) recordView {
	v := recordView{
		ID:        rec.ID,
		Command:   rec.Command,
		Args:      rec.Args,
		Status:    string(rec.Status),
		Stdout:    rec.Stdout,
		Stderr:    rec.Stderr,
		StartedAt: rec.StartedAt,
		ExitCode:  rec.ExitCode,
	}
	if !rec.EndedAt.IsZero() {
		t := rec.EndedAt
		v.EndedAt = &t
	}
	return v
}

// --- handlers ---

func (r *Router) handleExecute(c *gin.Context) {
	var req execReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON body"})
		return
	}
	id, err := r.sup.Spawn(req.Command, req.Args)
	if err != nil {
		var rej *validate.RejectionError
		switch {
		case errors.As(err, &rej):
			writeJSON(c, http.StatusBadRequest, errorResp{Error: rej.Error(), Kind: string(rej.Kind)})
		case errors.Is(err, supervisor.ErrShutdown):
			writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		default:
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		}
		return
	}
	writeJSON(c, http.StatusOK, execResp{ID: id})
}

func (r *Router) handleCancel(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "id query param required"})
		return
	}
	switch err := r.sup.Cancel(id); {
	case err == nil:
		writeJSON(c, http.StatusOK, okResp{OK: true})
	case errors.Is(err, supervisor.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, supervisor.ErrNotRunning):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "id query param required"})
		return
	}
	rec, ok := r.sup.Status(id)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown id"})
		return
	}
	writeJSON(c, http.StatusOK, viewOf(rec))
}

func (r *Router) handleList(c *gin.Context) {
	recs := r.sup.List()
	views := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, viewOf(rec))
	}
	writeJSON(c, http.StatusOK, views)
}
