package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultCookieName is used when none is configured.
const DefaultCookieName = "portal_session"

// CookieConfig shapes the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

func (cc CookieConfig) name() string {
	if cc.Name == "" {
		return DefaultCookieName
	}
	return cc.Name
}

// setSessionCookie writes the opaque session token. The cookie is HttpOnly,
// SameSite=Lax and scoped to the whole site.
func setSessionCookie(c *gin.Context, cc CookieConfig, token string, expires time.Time) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cc.name(),
		Value:    token,
		Path:     "/",
		Expires:  expires.UTC(),
		MaxAge:   int(cc.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cc.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(c *gin.Context, cc CookieConfig) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cc.name(),
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cc.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func sessionToken(c *gin.Context, cc CookieConfig) string {
	v, err := c.Cookie(cc.name())
	if err != nil {
		return ""
	}
	return v
}
