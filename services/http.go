package services

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	log "github.com/sirupsen/logrus"

	_ "github.com/summit-chronicles/summit_api/docs"
	"github.com/summit-chronicles/summit_api/dto"
	"github.com/summit-chronicles/summit_api/shared"
)

type HttpService struct {
	appContext.DefaultService

	admissionSvc *AdmissionService
	limiterSvc   *RateLimitService
	abuseSvc     *AbuseTrackerService
	monitorSvc   *APIMonitorService
	weatherSvc   *WeatherService
	authSvc      *AuthService
	sqlSvc       *SqliteService

	port   int
	server *fiber.App
}

const HTTP_SVC = "http_svc"

func (svc HttpService) Id() string {
	return HTTP_SVC
}

func (svc *HttpService) Configure(ctx *appContext.Context) error {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		var err error
		if svc.port, err = strconv.Atoi(port); err != nil {
			return err
		}
	} else {
		svc.port = 8000
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	svc.admissionSvc = svc.Service(ADMISSION_SVC).(*AdmissionService)
	svc.limiterSvc = svc.Service(RATE_LIMIT_SVC).(*RateLimitService)
	svc.abuseSvc = svc.Service(ABUSE_TRACKER_SVC).(*AbuseTrackerService)
	svc.monitorSvc = svc.Service(API_MONITOR_SVC).(*APIMonitorService)
	svc.weatherSvc = svc.Service(WEATHER_SVC).(*WeatherService)
	svc.authSvc = svc.Service(AUTH_SVC).(*AuthService)
	svc.sqlSvc = svc.Service(SQLITE_SVC).(*SqliteService)

	app := fiber.New(fiber.Config{
		AppName: "summit_api",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Key",
	}))

	app.Get("/ping", svc.ping)
	app.Get("/swagger/*", swagger.HandlerDefault)

	v1 := app.Group("/api/v1")

	v1.Post("/ai/ask", svc.admissionSvc.Protect(shared.OpAskAI), svc.askAI)
	v1.Post("/training/upload", svc.admissionSvc.Protect(shared.OpExcelUpload), svc.uploadTrainingPlan)
	v1.Post("/training/insights", svc.admissionSvc.Protect(shared.OpTrainingInsights), svc.trainingInsights)

	v1.Get("/weather/:peak", svc.peakWeather)

	v1.Get("/monitoring/:surface/health", svc.surfaceHealth)
	v1.Get("/monitoring/:surface/export", svc.surfaceExport)
	v1.Get("/monitoring/:surface/rate-limit", svc.surfaceRateLimit)

	admin := v1.Group("/admin", svc.authSvc.RequiredOperator())
	admin.Get("/abuse/stats", svc.abuseStats)
	admin.Get("/rate-limits/configs", svc.rateLimitConfigs)
	admin.Delete("/rate-limits/:identifier", svc.resetRateLimit)
	admin.Get("/alerts/:surface", svc.listAlerts)

	svc.server = app

	return app.Listen(fmt.Sprintf(":%v", svc.port))
}

func (svc *HttpService) Shutdown() {
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

// @Summary Ping
// @Description This endpoint checks the health of the service
// @Tags health
// @Produce json
// @Success 200 {object} shared.Response{data=string}
// @Router /ping [get]
func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set("Cache-Control", "max-age=10")
	return shared.ResponseJSON(c, http.StatusOK, "Success", "pong")
}

// ==================== GUARDED ENDPOINTS ====================

// @Summary Ask the AI coach a question
// @Description Admission-guarded question endpoint; the answer itself comes from the AI layer
// @Tags ai
// @Accept json
// @Produce json
// @Param request body dto.AskAIRequest true "Question"
// @Success 200 {object} shared.Response
// @Failure 429 {object} shared.Response
// @Router /api/v1/ai/ask [post]
func (svc *HttpService) askAI(c *fiber.Ctx) error {
	var req dto.AskAIRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Bad Request", nil)
	}
	if err := dto.GetValidator().Struct(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Validation failed", dto.FormatValidationErrors(err))
	}

	response := fiber.Map{"question": req.Question}

	// Off-topic questions are admitted but answered more gently
	if result, ok := c.Locals(AdmissionResultKey).(*dto.AdmissionResult); ok && result.Filter != nil {
		if result.Filter.IsIrrelevant {
			response["hint"] = "This site focuses on mountaineering and expedition training; answers outside that may be thin."
		}
		response["content_filter"] = result.Filter
	}

	return shared.ResponseJSON(c, http.StatusOK, "Question accepted", response)
}

// @Summary Upload a training plan
// @Description Admission-guarded upload endpoint; parsing happens in the training pipeline
// @Tags training
// @Accept json
// @Produce json
// @Param request body dto.TrainingUploadRequest true "Upload"
// @Success 202 {object} shared.Response
// @Failure 429 {object} shared.Response
// @Router /api/v1/training/upload [post]
func (svc *HttpService) uploadTrainingPlan(c *fiber.Ctx) error {
	var req dto.TrainingUploadRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Bad Request", nil)
	}
	if err := dto.GetValidator().Struct(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Validation failed", dto.FormatValidationErrors(err))
	}

	return shared.ResponseJSON(c, http.StatusAccepted, "Upload accepted", fiber.Map{
		"file_name": req.FileName,
	})
}

// @Summary Generate training insights
// @Description Admission-guarded insight generation
// @Tags training
// @Accept json
// @Produce json
// @Param request body dto.TrainingInsightsRequest true "Query"
// @Success 200 {object} shared.Response
// @Failure 429 {object} shared.Response
// @Router /api/v1/training/insights [post]
func (svc *HttpService) trainingInsights(c *fiber.Ctx) error {
	var req dto.TrainingInsightsRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Bad Request", nil)
	}
	if err := dto.GetValidator().Struct(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Validation failed", dto.FormatValidationErrors(err))
	}

	return shared.ResponseJSON(c, http.StatusOK, "Insight generation queued", fiber.Map{
		"query": req.Query,
	})
}

// ==================== UPSTREAM SAMPLE ====================

// @Summary Summit weather
// @Description Forecast for a known peak, served through the monitored upstream wrapper
// @Tags weather
// @Produce json
// @Param peak path string true "Peak name"
// @Success 200 {object} shared.Response{data=services.Forecast}
// @Failure 404 {object} shared.Response
// @Router /api/v1/weather/{peak} [get]
func (svc *HttpService) peakWeather(c *fiber.Ctx) error {
	peak := c.Params("peak")

	coords, ok := ResolvePeak(peak)
	if !ok {
		return shared.ResponseJSON(c, http.StatusNotFound, "Unknown peak", nil)
	}

	forecast, err := svc.weatherSvc.GetForecast(c.Context(), peak, coords[0], coords[1])
	if err != nil {
		return svc.HandleError(c, err)
	}

	return shared.ResponseJSON(c, http.StatusOK, "Success", forecast)
}

// ==================== MONITORING ====================

// @Summary Upstream surface health
// @Tags monitoring
// @Produce json
// @Param surface path string true "Surface name"
// @Success 200 {object} shared.Response{data=dto.HealthStatus}
// @Router /api/v1/monitoring/{surface}/health [get]
func (svc *HttpService) surfaceHealth(c *fiber.Ctx) error {
	return shared.ResponseJSON(c, http.StatusOK, "Success", svc.monitorSvc.GetHealthStatus(c.Params("surface")))
}

// @Summary Upstream surface export
// @Description Metrics, 24h alerts and health in one dashboard-ready document
// @Tags monitoring
// @Produce json
// @Param surface path string true "Surface name"
// @Success 200 {object} shared.Response{data=dto.MetricsExport}
// @Router /api/v1/monitoring/{surface}/export [get]
func (svc *HttpService) surfaceExport(c *fiber.Ctx) error {
	return shared.ResponseJSON(c, http.StatusOK, "Success", svc.monitorSvc.Export(c.Params("surface")))
}

// @Summary Upstream budget status
// @Tags monitoring
// @Produce json
// @Param surface path string true "Surface name"
// @Success 200 {object} shared.Response{data=dto.RateLimitStatus}
// @Router /api/v1/monitoring/{surface}/rate-limit [get]
func (svc *HttpService) surfaceRateLimit(c *fiber.Ctx) error {
	return shared.ResponseJSON(c, http.StatusOK, "Success", svc.monitorSvc.GetRateLimitStatus(c.Params("surface")))
}

// ==================== ADMIN ====================

// @Summary Abuse prevention statistics
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} shared.Response{data=dto.AbuseStats}
// @Router /api/v1/admin/abuse/stats [get]
func (svc *HttpService) abuseStats(c *fiber.Ctx) error {
	return shared.ResponseJSON(c, http.StatusOK, "Success", svc.abuseSvc.GetStats())
}

// @Summary Rate limit configurations
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} shared.Response
// @Router /api/v1/admin/rate-limits/configs [get]
func (svc *HttpService) rateLimitConfigs(c *fiber.Ctx) error {
	return shared.ResponseJSON(c, http.StatusOK, "Success", svc.limiterSvc.GetConfigs())
}

// @Summary Reset rate limit state for an identifier
// @Description Clears every bucket the identifier holds, across all operations
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param identifier path string true "Identifier"
// @Success 200 {object} shared.Response
// @Router /api/v1/admin/rate-limits/{identifier} [delete]
func (svc *HttpService) resetRateLimit(c *fiber.Ctx) error {
	identifier := c.Params("identifier")
	if identifier == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Missing identifier", nil)
	}

	if err := svc.limiterSvc.Reset(c.Context(), identifier); err != nil {
		return svc.HandleError(c, err)
	}

	operator, _ := c.Locals(shared.OperatorID).(string)
	log.WithFields(log.Fields{
		"identifier": identifier,
		"operator":   operator,
	}).Info("Rate limit manually reset")

	return shared.ResponseJSON(c, http.StatusOK, fmt.Sprintf("Rate limit reset for %s", identifier), nil)
}

// @Summary Persisted alert history for a surface
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param surface path string true "Surface name"
// @Param limit query int false "Max rows" default(50)
// @Success 200 {object} shared.Response
// @Router /api/v1/admin/alerts/{surface} [get]
func (svc *HttpService) listAlerts(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	alerts, err := svc.sqlSvc.ListAlerts(c.Params("surface"), limit)
	if err != nil {
		return svc.HandleError(c, err)
	}

	return shared.ResponseJSON(c, http.StatusOK, "Success", alerts)
}

func (svc *HttpService) HandleError(c *fiber.Ctx, err error) error {
	if err == nil {
		return nil
	}

	if appErr, ok := shared.GetAppError(err); ok {
		return shared.ResponseJSON(c, appErr.StatusCode, appErr.Message, appErr.Data)
	}

	return shared.ResponseInternalError(c, err)
}
