package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Middleware())
	router.GET("/api/agents/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/agents/1b671a64-40d5-491e-99b0-da01ff1f3341", nil)

	assert.NotPanics(t, func() {
		router.ServeHTTP(rec, req)
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareUnmatchedRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Middleware())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/definitely/not/registered", nil)

	assert.NotPanics(t, func() {
		router.ServeHTTP(rec, req)
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
