package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/zepph7/christmas-surprise/pkg/metrics"
)

const sessionKey = "session"

// sessionMiddleware makes sure every request carries a cs_session id, issuing a new one on first contact.
func sessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := ""
		if cookie, err := c.Cookie(metrics.SessionCookie); err == nil {
			if parsed, err := uuid.Parse(cookie.Value); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.NewString()
			c.SetCookie(&http.Cookie{
				Name:     metrics.SessionCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		c.Set(sessionKey, id)
		return next(c)
	}
}

func sessionID(c echo.Context) string {
	id, _ := c.Get(sessionKey).(string)
	return id
}
