package handler

import (
	"chatcore/backend/internal/chaterrors"
	"chatcore/backend/internal/identity"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	identityKey = "identity"
	devTokenTTL = 72 * time.Hour
)

// RequireIdentity verifies the caller's token and stores the identity on the context.
func (h *Handler) RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		who, err := h.authenticate(c)
		if err != nil {
			h.abortWithError(c, err)
			return
		}
		c.Set(identityKey, who)
		c.Next()
	}
}

func (h *Handler) authenticate(c *gin.Context) (*identity.Identity, error) {
	token := identity.TokenFromRequest(c.GetHeader("Authorization"), c.Query("token"))
	if token == "" {
		return nil, chaterrors.ErrAuthenticationFailed
	}
	return h.verifier.VerifyToken(c.Request.Context(), token)
}

func caller(c *gin.Context) *identity.Identity {
	return c.MustGet(identityKey).(*identity.Identity)
}

// IssueDevToken signs a token for user_id, or for a fresh random id when none is
// given. Mounted only when development tokens are enabled.
func (h *Handler) IssueDevToken(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		userID = uuid.NewString()
	}

	token, err := h.tokens.GenerateToken(userID, c.Query("name"), devTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": userID})
}
