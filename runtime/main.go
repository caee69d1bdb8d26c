package main

import (
	"github.com/summit-chronicles/summit_api/services"

	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// @title Summit Chronicles API
// @version 1.0
// @description Admission control and upstream monitoring for the Summit Chronicles blog backend
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	err := godotenv.Load()
	if err != nil {
		log.Warn().Err(err).Msg("No .env file loaded")
	}

	ctx, err := context.NewCtx(
		&services.SqliteService{},
		&services.RedisService{},
		&services.AmqpService{},
		&services.MinIOService{},

		&services.JWTService{},
		&services.AuthService{},

		&services.MonitoringService{},
		&services.RateLimitService{},
		&services.ContentFilterService{},
		&services.AbuseTrackerService{},
		&services.AdmissionService{},
		&services.APIMonitorService{},
		&services.WeatherService{},

		&services.HttpService{},
	)
	if err != nil {
		log.Fatal().Err(err)
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err)
		return
	}
}
