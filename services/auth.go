package services

import (
	"net/http"
	"os"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/summit-chronicles/summit_api/shared"
	"golang.org/x/crypto/bcrypt"
)

// AuthService guards the operator-only admin surface. Two credentials are
// accepted: a Bearer JWT signed with the operator secret, or a static admin
// key checked against its bcrypt hash (for curl-from-a-runbook use).
type AuthService struct {
	appContext.DefaultService

	jwtSvc       *JWTService
	adminKeyHash []byte
}

const AUTH_SVC = "auth_svc"

func (svc AuthService) Id() string {
	return AUTH_SVC
}

func (svc *AuthService) Configure(ctx *appContext.Context) error {
	if hash := os.Getenv("ADMIN_KEY_HASH"); hash != "" {
		svc.adminKeyHash = []byte(hash)
	}
	return svc.DefaultService.Configure(ctx)
}

func (svc *AuthService) Start() error {
	svc.jwtSvc = svc.Service(JWT_SVC).(*JWTService)
	return nil
}

func (svc *AuthService) RequiredOperator() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if adminKey := c.Get("X-Admin-Key"); adminKey != "" && svc.adminKeyHash != nil {
			if err := bcrypt.CompareHashAndPassword(svc.adminKeyHash, []byte(adminKey)); err == nil {
				c.Locals(shared.OperatorID, "admin-key")
				return c.Next()
			}
			return shared.ResponseJSON(c, http.StatusUnauthorized, "Unauthorized", "Invalid admin key")
		}

		token, err := ExtractTokenFromHeader(c.Get("Authorization"))
		if err != nil {
			return shared.ResponseJSON(c, http.StatusUnauthorized, "Unauthorized", err.Error())
		}

		operatorID, err := svc.jwtSvc.VerifyOperatorToken(token)
		if err != nil {
			return shared.ResponseJSON(c, http.StatusUnauthorized, "Unauthorized", "Invalid operator token")
		}

		c.Locals(shared.OperatorID, operatorID)
		return c.Next()
	}
}
