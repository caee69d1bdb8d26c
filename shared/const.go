package shared

const (
	OperatorID = "operator_id"

	// Rate-limited operations
	OpGeneral          = "api_general"
	OpAskAI            = "ask_ai"
	OpExcelUpload      = "excel_upload"
	OpTrainingInsights = "training_insights"

	// Violation types recorded against a source address
	ViolationRateLimitIP = "rate_limit_ip"
	ViolationSpam        = "spam"
	ViolationToxicity    = "toxicity"

	// Monitored upstream surfaces
	SurfaceStrava    = "strava"
	SurfaceGarmin    = "garmin"
	SurfaceIntervals = "intervals"
	SurfaceWeather   = "weather"
)
