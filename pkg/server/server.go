// Package server exposes an agenda session over HTTP.
package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/harrisonrobin/duet/pkg/agenda"
	"github.com/harrisonrobin/duet/pkg/gcal"
	"github.com/harrisonrobin/duet/pkg/model"
	"github.com/harrisonrobin/duet/pkg/store"
	"github.com/harrisonrobin/duet/pkg/swipe"
)

// Server serves one session; every client shares its focused month.
type Server struct {
	session *agenda.Session
	router  *gin.Engine
}

func New(session *agenda.Session) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	if gin.Mode() != gin.TestMode {
		router.Use(gin.Logger())
	}

	s := &Server{session: session, router: router}

	api := router.Group("/api")
	{
		api.GET("/grid", s.handleGrid)
		api.POST("/swipe", s.handleSwipe)
		api.POST("/advance", s.handleAdvance)
		api.POST("/retreat", s.handleRetreat)
		api.POST("/tap", s.handleTap)
		api.POST("/tasks/:id/toggle", s.handleToggle)
		api.PUT("/tasks/:id/steps", s.handleSteps)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the web server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

type swipeRequest struct {
	Velocity    float64 `json:"velocity"`
	Translation float64 `json:"translation"`
}

type swipeResponse struct {
	Direction string       `json:"direction"`
	Frame     agenda.Frame `json:"frame"`
}

type tapRequest struct {
	Index *int `json:"index" binding:"required"`
}

type stepsRequest struct {
	Steps []model.Step `json:"steps"`
}

// handleGrid renders the focused month. year and month reposition the
// cursor; month is zero-based like everywhere else.
func (s *Server) handleGrid(c *gin.Context) {
	yearStr, monthStr := c.Query("year"), c.Query("month")
	if yearStr != "" || monthStr != "" {
		cur := s.session.Cursor()
		year, month := cur.Year, cur.Month
		var err error
		if yearStr != "" {
			if year, err = strconv.Atoi(yearStr); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
				return
			}
		}
		if monthStr != "" {
			if month, err = strconv.Atoi(monthStr); err != nil || month < 0 || month > 11 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "month must be 0..11"})
				return
			}
		}
		s.refreshed(s.session.Show(c.Request.Context(), year, month))
	} else if s.session.Frame().Stale {
		s.refreshed(s.session.Refresh(c.Request.Context()))
	}
	c.JSON(http.StatusOK, s.session.Frame())
}

func (s *Server) handleSwipe(c *gin.Context) {
	var req swipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dir, err := s.session.Swipe(c.Request.Context(), req.Velocity, req.Translation)
	s.refreshed(err)
	c.JSON(http.StatusOK, swipeResponse{Direction: dir.String(), Frame: s.session.Frame()})
}

func (s *Server) handleAdvance(c *gin.Context) {
	s.refreshed(s.session.Advance(c.Request.Context()))
	c.JSON(http.StatusOK, swipeResponse{Direction: swipe.Next.String(), Frame: s.session.Frame()})
}

func (s *Server) handleRetreat(c *gin.Context) {
	s.refreshed(s.session.Retreat(c.Request.Context()))
	c.JSON(http.StatusOK, swipeResponse{Direction: swipe.Previous.String(), Frame: s.session.Frame()})
}

func (s *Server) handleTap(c *gin.Context) {
	var req tapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := s.session.Tap(*req.Index)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date})
}

func (s *Server) handleToggle(c *gin.Context) {
	err := s.session.ToggleCompletion(c.Request.Context(), c.Param("id"))
	s.mutated(c, err)
}

func (s *Server) handleSteps(c *gin.Context) {
	var req stepsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.session.ReplaceSteps(c.Request.Context(), c.Param("id"), req.Steps)
	s.mutated(c, err)
}

// mutated answers a mutation. A change that landed but could not be
// re-fetched still succeeds with a stale frame.
func (s *Server) mutated(c *gin.Context, err error) {
	switch {
	case err == nil, errors.Is(err, agenda.ErrNoData):
		s.refreshed(err)
		c.JSON(http.StatusOK, s.session.Frame())
	case errors.Is(err, agenda.ErrReadOnly):
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": err.Error()})
	case isNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// refreshed logs a failed refresh; the frame reports it as stale.
func (s *Server) refreshed(err error) {
	if err != nil {
		log.Printf("Warning: %v", err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, gcal.ErrNotFound)
}
