package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tasksync/internal/auth"
	"tasksync/internal/model"
	"tasksync/pkg/logger"
	"tasksync/pkg/trace"
)

// IdentityKey is the gin context key holding the caller's model.Identity.
const IdentityKey = "identity"

// Authenticator is the server-side view of auth.Service. None of these
// methods change a current session.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (model.Profile, error)
	Register(ctx context.Context, name, email, password string) (model.Profile, error)
	LookupMember(ctx context.Context, secret string) (model.Profile, error)
	Mint(id model.Identity) (auth.Session, error)
}

type AuthHandler struct {
	auth   Authenticator
	logger *zap.Logger
}

func NewAuthHandler(a Authenticator, l *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: a, logger: logger.OrNop(l)}
}

type memberLoginRequest struct {
	SecretNumber string `json:"secret_number" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// MemberLogin exchanges a secret number for a session.
// POST /auth/member-login
func (h *AuthHandler) MemberLogin(c *gin.Context) {
	var req memberLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "secret_number is required"})
		return
	}

	p, err := h.auth.LookupMember(c.Request.Context(), req.SecretNumber)
	if err != nil {
		if errors.Is(err, auth.ErrMemberNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
			return
		}
		h.fail(c, "Member lookup failed", err)
		return
	}
	h.issue(c, http.StatusOK, p.Identity())
}

// Login signs an admin in.
// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	p, err := h.auth.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrInactive):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			h.fail(c, "Admin login failed", err)
		}
		return
	}
	h.issue(c, http.StatusOK, p.Identity())
}

// Register creates an admin account.
// POST /auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, email and password are required"})
		return
	}

	p, err := h.auth.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailTaken), errors.Is(err, auth.ErrNameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrLongPassword), errors.Is(err, model.ErrInvalidProfile):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.fail(c, "Admin registration failed", err)
		}
		return
	}
	h.issue(c, http.StatusCreated, p.Identity())
}

// Me returns the caller's identity.
// GET /auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	id, ok := c.Get(IdentityKey)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": id})
}

func (h *AuthHandler) issue(c *gin.Context, status int, id model.Identity) {
	sess, err := h.auth.Mint(id)
	if err != nil {
		h.fail(c, "Failed to mint session", err)
		return
	}
	c.JSON(status, sess)
}

func (h *AuthHandler) fail(c *gin.Context, msg string, err error) {
	logger.WithTrace(c.Request.Context(), h.logger).Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":    "internal error",
		"trace_id": trace.FromContext(c.Request.Context()),
	})
}
