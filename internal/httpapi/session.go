package httpapi

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"academyportal/internal/apperr"
	"academyportal/internal/authz"
	"academyportal/internal/member"
	"academyportal/internal/session"
)

const actorKey = "actor"

// authenticate resolves the session cookie to an actor once per request.
// A missing or dead session leaves the actor nil; handlers decide whether
// that is a 401. A storage failure is a 500, never a 401.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c, s.cookie)
		actor, err := s.sessions.Validate(c.Request.Context(), token)
		if err != nil {
			fail(c, err)
			return
		}
		if actor != nil {
			c.Set(actorKey, actor)
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) *authz.Actor {
	v, ok := c.Get(actorKey)
	if !ok {
		return nil
	}
	a, _ := v.(*authz.Actor)
	return a
}

// requireActor aborts with 401 when the request has no live session.
func requireActor(c *gin.Context) (*authz.Actor, bool) {
	a := actorFrom(c)
	if a == nil {
		fail(c, apperr.ErrUnauthenticated)
		return nil, false
	}
	return a, true
}

type profile struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"isAdmin"`
	MemberID *int64 `json:"memberId"`
}

func profileOf(a *authz.Actor) profile {
	return profile{ID: a.UserID, Email: a.Email, IsAdmin: a.IsAdmin, MemberID: a.MemberID}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// equalizeTiming spends a bcrypt comparison on unknown emails so they take
// as long as a wrong password.
func equalizeTiming(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: email and password are required", apperr.ErrInvalidInput))
		return
	}
	ctx := c.Request.Context()

	user, err := s.dir.UserByEmail(ctx, member.NormalizeEmail(req.Email))
	if err != nil {
		fail(c, err)
		return
	}
	if user == nil {
		equalizeTiming(req.Password)
		badCredentials(c)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		badCredentials(c)
		return
	}

	token, expires, err := s.sessions.Create(ctx, user.ID, session.Meta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		fail(c, err)
		return
	}
	setSessionCookie(c, s.cookie, token, expires)

	p := profile{ID: user.ID, Email: user.Email, IsAdmin: user.IsAdmin}
	m, err := s.dir.MemberByUserID(ctx, user.ID)
	if err != nil {
		fail(c, err)
		return
	}
	if m != nil {
		id := m.ID
		p.MemberID = &id
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": p, "expiresAt": expires})
}

func badCredentials(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   errorBody{Code: apperr.CodeUnauthenticated, Message: "Invalid email or password."},
	})
}

func (s *Server) logout(c *gin.Context) {
	token := sessionToken(c, s.cookie)
	clearSessionCookie(c, s.cookie)
	if err := s.sessions.Destroy(c.Request.Context(), token); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) me(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": profileOf(actor)})
}
