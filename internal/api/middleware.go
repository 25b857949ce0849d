package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/lecture-service/internal/metrics"
	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	bearerPrefix   = "Bearer "
	subjectKey     = "subject"
	unmatchedRoute = "unmatched"
)

var errMissingBearer = errors.New("missing bearer token")

// Claims are the JWT claims accepted on the API.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// RequestLogger logs every request through the service logger and counts it on m.
func RequestLogger(log *logger.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}

		status := c.Writer.Status()
		m.HTTPRequest(c.Request.Method, route, status)

		if status >= http.StatusInternalServerError {
			log.Error("%s %s -> %d in %s", c.Request.Method, c.Request.URL.Path, status, time.Since(start))

			return
		}

		log.Info("%s %s -> %d in %s", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
	}
}

// Auth rejects requests without a valid HS256 bearer token signed with secret.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := parseBearer(c.GetHeader("Authorization"), secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthorized"})

			return
		}

		subject := claims.Subject
		if subject == "" {
			subject = claims.Username
		}

		c.Set(subjectKey, subject)
		c.Next()
	}
}

func parseBearer(header string, secret []byte) (*Claims, error) {
	if !strings.HasPrefix(header, bearerPrefix) || len(header) == len(bearerPrefix) {
		return nil, errMissingBearer
	}

	claims := &Claims{}

	_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, bearerPrefix), claims,
		func(_ *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, err
	}

	return claims, nil
}

// clientKey scopes rate limiting to the authenticated subject, or the client IP without auth.
func clientKey(c *gin.Context) string {
	if subject := c.GetString(subjectKey); subject != "" {
		return "sub:" + subject
	}

	return "ip:" + c.ClientIP()
}
