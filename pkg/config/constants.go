package config

const (
	EnvPrefix = "adpilot"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv  = "ADPILOT_APP_ENV"
	EnvAppPort = "ADPILOT_APP_PORT"

	EnvDBDSN  = "ADPILOT_DB_DSN"
	EnvDBHost = "ADPILOT_DB_HOST"
	EnvDBUser = "ADPILOT_DB_USER"
	EnvDBName = "ADPILOT_DB_NAME"

	EnvRedisURL      = "ADPILOT_REDIS_URL"
	EnvGCPProjectID  = "ADPILOT_GCP_PROJECT_ID"
	EnvOperatorToken = "ADPILOT_OPERATOR_TOKEN"
)

// legacyDBEnvVars are the discrete connection vars accepted when no DSN is set.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
