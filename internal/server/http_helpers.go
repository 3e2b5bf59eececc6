package server

import (
	"errors"
	"net/http"
	"time"

	"prompt-master/internal/auth"
	"prompt-master/internal/game"
	"prompt-master/internal/store"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const identityKey = "identity"

func (s *Server) requireIdentity(c *gin.Context) {
	id, err := s.auth.FromRequest(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Set(identityKey, id)
	c.Next()
}

func identity(c *gin.Context) auth.Identity {
	id, _ := c.MustGet(identityKey).(auth.Identity)
	return id
}

func player(c *gin.Context) game.Player {
	id := identity(c)
	return game.Player{UserID: id.UserID, Name: id.Name}
}

// writeError maps machine errors onto status codes. Anything unexpected is
// logged and reported as a 500.
func writeError(c *gin.Context, err error) {
	if verr, ok := game.AsValidation(err); ok {
		status := http.StatusBadRequest
		switch verr.Kind {
		case game.KindForbidden:
			status = http.StatusForbidden
		case game.KindPhase:
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": verr.Message})
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, game.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "game changed, try again"})
	default:
		log.WithError(err).Errorf("request failed method=%s path=%s", c.Request.Method, c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"ip":       c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request")
			return
		}
		entry.Debug("request")
	}
}
