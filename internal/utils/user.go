package utils

import (
	"forum/internal/errs"
	"forum/internal/models"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID     = "user_id"
	ctxPrivileged = "privileged"
)

// SetActor stores the verified caller on the request context.
func SetActor(c *gin.Context, claims *Claims) {
	c.Set(ctxUserID, claims.UserID)
	c.Set(ctxPrivileged, claims.Privileged())
}

// GetUserID returns errs.ErrPermissionDenied when nobody is signed in.
func GetUserID(c *gin.Context) (string, error) {
	uid := c.GetString(ctxUserID)
	if uid == "" {
		return "", errs.ErrPermissionDenied
	}
	return uid, nil
}

// GetActor never fails: an anonymous caller is an Actor with no UserID.
func GetActor(c *gin.Context) models.Actor {
	return models.Actor{
		UserID:     c.GetString(ctxUserID),
		Privileged: c.GetBool(ctxPrivileged),
	}
}
