package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/hunter"
)

func (s *Server) handleListAgents(c *gin.Context) {
	var (
		agents []*db.Agent
		err    error
	)
	if status := c.Query("status"); status != "" {
		agents, err = s.deps.Agents.ListByStatus(c.Request.Context(), db.AgentStatus(status))
	} else {
		agents, err = s.deps.Agents.List(c.Request.Context())
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agents)
}

type createAgentRequest struct {
	Name   string          `json:"name" binding:"required"`
	Kind   string          `json:"kind" binding:"required"`
	Config json.RawMessage `json:"config"`
}

func (s *Server) handleCreateAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	agent := &db.Agent{
		Name:   req.Name,
		Kind:   req.Kind,
		Status: db.AgentStatusIdle,
		Active: true,
		Config: req.Config,
	}
	if err := s.deps.Agents.Create(c.Request.Context(), agent); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) handleGetAgent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	agent, err := s.deps.Agents.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

type updateAgentRequest struct {
	Status *string         `json:"status"`
	Active *bool           `json:"active"`
	Config json.RawMessage `json:"config"`
}

func (s *Server) handleUpdateAgent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req updateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	agent, err := s.deps.Agents.Get(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	if len(req.Config) > 0 {
		if h, isHunter := s.deps.Hunters.HunterByID(id); isHunter {
			if _, err := s.deps.Hunters.UpdateConfig(ctx, h.Kind(), req.Config); err != nil {
				respondError(c, err)
				return
			}
		} else {
			merged, err := hunter.MergeConfig(agent.Config, req.Config)
			if err != nil {
				badRequest(c, err.Error())
				return
			}
			if err := s.deps.Agents.UpdateConfig(ctx, id, merged); err != nil {
				respondError(c, err)
				return
			}
		}
	}
	if req.Active != nil {
		if err := s.deps.Agents.SetActive(ctx, id, *req.Active); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.Status != nil {
		if err := s.deps.Agents.UpdateStatus(ctx, id, db.AgentStatus(*req.Status)); err != nil {
			respondError(c, err)
			return
		}
	}

	agent, err = s.deps.Agents.Get(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) handleStartAgent(c *gin.Context) {
	s.transitionAgent(c, db.AgentStatusRunning)
}

func (s *Server) handleStopAgent(c *gin.Context) {
	s.transitionAgent(c, db.AgentStatusStopped)
}

func (s *Server) handlePauseAgent(c *gin.Context) {
	s.transitionAgent(c, db.AgentStatusPaused)
}

// transitionAgent applies a lifecycle change. Hunters go through the
// runtime so their schedules follow the status; other agents are plain
// row updates.
func (s *Server) transitionAgent(c *gin.Context, target db.AgentStatus) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	agent, err := s.deps.Agents.Get(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if target == db.AgentStatusRunning && !agent.Active {
		badRequest(c, "Agent is disabled")
		return
	}

	if h, isHunter := s.deps.Hunters.HunterByID(id); isHunter {
		switch target {
		case db.AgentStatusRunning:
			err = s.deps.Hunters.Start(ctx, h.Kind())
		case db.AgentStatusPaused:
			err = s.deps.Hunters.Pause(ctx, h.Kind())
		default:
			err = s.deps.Hunters.Stop(ctx, h.Kind())
		}
	} else {
		err = s.deps.Agents.UpdateStatus(ctx, id, target)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	agent, err = s.deps.Agents.Get(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) handleAgentRuns(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	runs, err := s.deps.Runs.ListByAgent(c.Request.Context(), id, queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) handleAgentActivities(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	activities, err := s.deps.Activities.Recent(c.Request.Context(), db.ActivityFilter{
		AgentID: &id,
		Limit:   queryInt(c, "limit", 50),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, activities)
}

func (s *Server) handleAllActivities(c *gin.Context) {
	activities, err := s.deps.Activities.Recent(c.Request.Context(), db.ActivityFilter{
		Limit: queryInt(c, "limit", 100),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, activities)
}

// parseID reads the :id path parameter as a UUID, answering 400 itself
// when the value is malformed.
func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id: "+c.Param("id"))
		return uuid.Nil, false
	}
	return id, true
}

// queryInt reads an integer query parameter, falling back to def on
// absence or garbage.
func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// queryFloat reads a float query parameter; an absent parameter is an
// error so callers keep their default.
func queryFloat(c *gin.Context, name string) (float64, error) {
	return strconv.ParseFloat(c.Query(name), 64)
}
