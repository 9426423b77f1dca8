package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mohametBa/UniversMurid-sub001/internal/apperrors"
	"github.com/mohametBa/UniversMurid-sub001/internal/auth"
	"github.com/mohametBa/UniversMurid-sub001/internal/history"
	"github.com/mohametBa/UniversMurid-sub001/internal/offline"
	"github.com/mohametBa/UniversMurid-sub001/internal/progress"
	"github.com/mohametBa/UniversMurid-sub001/pkg/schema"
)

// gameTypeField is the body field that routes a save; it is never stored.
const gameTypeField = "gameType"

type Handler struct {
	Progress *progress.Service
	Reader   *history.Reader
	Verifier auth.Verifier
	// Offline is optional; without it GET /offline/manifest answers 404.
	Offline *offline.Manager
}

func writeError(c *gin.Context, err error) {
	c.JSON(apperrors.CodeOf(err).HTTPStatus(), gin.H{"error": apperrors.PublicMessage(err)})
}

func (h *Handler) identify(c *gin.Context) (string, bool) {
	userID, err := auth.Identify(c.Request, h.Verifier)
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return userID, true
}

// SaveProgress handles POST /game-progress. The body is the game state plus a
// gameType field, which is stripped before the state is saved.
func (h *Handler) SaveProgress(c *gin.Context) {
	var body schema.GameState
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object"})
		return
	}
	gameType, _ := body[gameTypeField].(string)
	if strings.TrimSpace(gameType) == "" {
		writeError(c, apperrors.New(apperrors.CodeValidation, "gameType is required"))
		return
	}
	delete(body, gameTypeField)

	userID, ok := h.identify(c)
	if !ok {
		return
	}

	saved, err := h.Progress.SaveState(c.Request.Context(), userID, gameType, body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// LoadProgress handles GET /game-progress?gameType=. An unsaved game answers null.
func (h *Handler) LoadProgress(c *gin.Context) {
	gameType := c.Query("gameType")
	if strings.TrimSpace(gameType) == "" {
		writeError(c, apperrors.New(apperrors.CodeValidation, "gameType is required"))
		return
	}
	userID, ok := h.identify(c)
	if !ok {
		return
	}

	state, found, err := h.Progress.LoadState(c.Request.Context(), userID, gameType)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetHistory handles GET /game-stats/history?gameType=&limit=.
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, apperrors.New(apperrors.CodeValidation, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	userID, ok := h.identify(c)
	if !ok {
		return
	}

	entries, err := h.Reader.ListHistory(c.Request.Context(), userID, c.Query("gameType"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// GetAchievements handles GET /game-stats/achievements.
func (h *Handler) GetAchievements(c *gin.Context) {
	userID, ok := h.identify(c)
	if !ok {
		return
	}

	list, err := h.Reader.ListAchievements(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetManifest reports the precache manifest and the lifecycle of its generation.
func (h *Handler) GetManifest(c *gin.Context) {
	if h.Offline == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "offline cache disabled"})
		return
	}
	manifest := h.Offline.Manifest()
	c.JSON(http.StatusOK, gin.H{
		"generation": manifest.Generation,
		"urls":       manifest.URLs,
		"state":      h.Offline.State().String(),
		"active":     h.Offline.Active(),
	})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
