package services

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/summit-chronicles/summit_api/dto"
	"github.com/summit-chronicles/summit_api/shared"
	log "github.com/sirupsen/logrus"
)

// AdmissionService composes the abuse tracker, the rate limiter and the
// content filter into one allow/deny decision per request.
//
// Check order is deliberate: a blocked address must not burn down its
// budgets, and classification (the expensive step) must not run for requests
// already over budget.
type AdmissionService struct {
	appContext.DefaultService

	abuseSvc   *AbuseTrackerService
	limiterSvc *RateLimitService
	filterSvc  *ContentFilterService
	monitorSvc *MonitoringService

	classifier       ContentClassifier
	trustProxyHeader bool
}

const ADMISSION_SVC = "admission_svc"

// AdmissionResultKey is where the middleware parks the decision for
// downstream handlers (e.g. to soften responses to off-topic questions).
const AdmissionResultKey = "admission_result"

func (svc AdmissionService) Id() string {
	return ADMISSION_SVC
}

func (svc *AdmissionService) Configure(ctx *appContext.Context) error {
	svc.trustProxyHeader = os.Getenv("ADMISSION_TRUST_PROXY_HEADERS") != "false"
	return svc.DefaultService.Configure(ctx)
}

func (svc *AdmissionService) Start() error {
	svc.abuseSvc = svc.Service(ABUSE_TRACKER_SVC).(*AbuseTrackerService)
	svc.limiterSvc = svc.Service(RATE_LIMIT_SVC).(*RateLimitService)
	svc.filterSvc = svc.Service(CONTENT_FILTER_SVC).(*ContentFilterService)
	svc.monitorSvc, _ = svc.Service(MONITORING_SVC).(*MonitoringService)

	svc.classifier = svc.filterSvc
	return nil
}

// ==================== ADMISSION DECISION ====================

func (svc *AdmissionService) CheckAdmission(ctx context.Context, sourceAddress, payloadText, operation string) *dto.AdmissionResult {
	if svc.abuseSvc.IsBlocked(sourceAddress) {
		return svc.deny(operation, "Address temporarily blocked due to suspicious activity", nil, nil)
	}

	allowed, ipInfo, err := svc.limiterSvc.Consume(ctx, sourceAddress, shared.OpGeneral)
	if err != nil {
		return svc.failOpen(sourceAddress, operation, err)
	}
	if !allowed {
		svc.abuseSvc.RecordViolation(sourceAddress, shared.ViolationRateLimitIP)
		return svc.deny(operation, fmt.Sprintf("Rate limit exceeded for %s. Try again later.", shared.OpGeneral), nil, ipInfo)
	}

	allowed, opInfo, err := svc.limiterSvc.Consume(ctx, sourceAddress, operation)
	if err != nil {
		return svc.failOpen(sourceAddress, operation, err)
	}
	if !allowed {
		svc.abuseSvc.RecordViolation(sourceAddress, "rate_limit_"+operation)
		return svc.deny(operation, fmt.Sprintf("Rate limit exceeded for %s. Try again later.", operation), nil, opInfo)
	}

	filter := svc.classifier.Classify(payloadText)

	if filter.IsSpam || filter.IsToxic {
		violationType := shared.ViolationSpam
		if !filter.IsSpam {
			violationType = shared.ViolationToxicity
		}
		svc.abuseSvc.RecordViolation(sourceAddress, violationType)
		return svc.deny(operation, "Content filtered: "+strings.Join(filter.Flags, ", "), filter, opInfo)
	}

	// Irrelevant alone still admits; the result is surfaced so the caller can
	// answer more gently.
	svc.recordDecision(operation, "allowed")
	return &dto.AdmissionResult{
		Allowed:   true,
		Filter:    filter,
		RateLimit: opInfo,
	}
}

func (svc *AdmissionService) deny(operation, reason string, filter *dto.ContentFilterResult, info *dto.RateLimitInfo) *dto.AdmissionResult {
	svc.recordDecision(operation, "denied")
	return &dto.AdmissionResult{
		Allowed:   false,
		Reason:    reason,
		Filter:    filter,
		RateLimit: info,
	}
}

// failOpen is the availability-over-enforcement branch: when the bucket
// store itself errors the guarded endpoints keep serving.
func (svc *AdmissionService) failOpen(sourceAddress, operation string, err error) *dto.AdmissionResult {
	log.WithError(err).WithFields(log.Fields{
		"address":   sourceAddress,
		"operation": operation,
	}).Error("Rate limit store unavailable, failing open")

	svc.recordDecision(operation, "fail_open")
	return &dto.AdmissionResult{Allowed: true}
}

func (svc *AdmissionService) recordDecision(operation, outcome string) {
	if svc.monitorSvc != nil {
		svc.monitorSvc.RecordAdmission(operation, outcome)
	}
}

// ==================== MIDDLEWARE ====================

// Protect guards a route with the full admission check for one operation.
func (svc *AdmissionService) Protect(operation string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sourceAddress := svc.resolveIdentifier(c)
		payload := extractPayloadText(c)

		result := svc.CheckAdmission(c.Context(), sourceAddress, payload, operation)

		if result.RateLimit != nil {
			addRateLimitHeaders(c, result.RateLimit)
		}

		if !result.Allowed {
			return respondDenied(c, result)
		}

		c.Locals(AdmissionResultKey, result)
		return c.Next()
	}
}

func respondDenied(c *fiber.Ctx, result *dto.AdmissionResult) error {
	body := fiber.Map{"error": result.Reason}

	if result.RateLimit != nil && result.RateLimit.ResetTime != nil {
		retryAfter := int(time.Until(*result.RateLimit.ResetTime).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		body["retry_after"] = retryAfter
		c.Set("Retry-After", strconv.Itoa(retryAfter))
	}

	return c.Status(http.StatusTooManyRequests).JSON(body)
}

func addRateLimitHeaders(c *fiber.Ctx, info *dto.RateLimitInfo) {
	if info.Remaining >= 0 {
		c.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	}
	if info.ResetTime != nil {
		c.Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// resolveIdentifier picks the rate-limit identifier for the request. Whether
// proxy headers are trusted is an explicit deployment choice: behind a
// proxy/CDN the socket address is the proxy, but on a bare listener the
// headers are spoofable.
func (svc *AdmissionService) resolveIdentifier(c *fiber.Ctx) string {
	if svc.trustProxyHeader {
		if forwarded := c.Get("X-Forwarded-For"); forwarded != "" {
			if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
				return ip
			}
		}
		if realIP := c.Get("X-Real-IP"); realIP != "" {
			return realIP
		}
		if cfIP := c.Get("CF-Connecting-IP"); cfIP != "" {
			return cfIP
		}
	}

	remote := c.Context().RemoteAddr().String()
	if ip, _, err := net.SplitHostPort(remote); err == nil && ip != "" {
		return ip
	}
	if remote != "" {
		return remote
	}
	return "unknown"
}

// extractPayloadText pulls the free-text part of the request body that the
// content filter should see.
func extractPayloadText(c *fiber.Ctx) string {
	if len(c.Body()) == 0 {
		return ""
	}

	var body map[string]interface{}
	if err := c.BodyParser(&body); err != nil {
		return ""
	}

	for _, field := range []string{"question", "content", "query", "notes"} {
		if value, exists := body[field]; exists {
			if text, ok := value.(string); ok && text != "" {
				return text
			}
		}
	}
	return ""
}
