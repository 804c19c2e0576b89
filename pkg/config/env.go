package config

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv     = "PAYROLL_APP_ENV"
	EnvPort       = "PAYROLL_APP_PORT"
	EnvDBDSN      = "PAYROLL_DB_DSN"
	EnvDBDriver   = "PAYROLL_DB_DRIVER"
	EnvDBHost     = "PAYROLL_DB_HOST"
	EnvDBUser     = "PAYROLL_DB_USER"
	EnvDBName     = "PAYROLL_DB_NAME"
	EnvRedisURL   = "PAYROLL_REDIS_URL"
	EnvJWTSecret  = "PAYROLL_JWT_SECRET"
	EnvJWTIssuer  = "PAYROLL_JWT_ISSUER"
	EnvSMTPHost   = "PAYROLL_SMTP_HOST"
	EnvSMTPFrom   = "PAYROLL_SMTP_FROM"
	EnvGCPProject = "PAYROLL_GCP_PROJECT_ID"

	EnvPubSubPayrollTopic = "PAYROLL_PUBSUB_PAYROLL_TOPIC"
	EnvPubSubPayrollSub   = "PAYROLL_PUBSUB_PAYROLL_SUBSCRIPTION"

	EnvDeliveryEncrypt = "PAYROLL_DELIVERY_ENCRYPT_STATEMENTS"
	EnvQuotaStrict     = "PAYROLL_QUOTA_STRICT"
	EnvSequenceBackend = "PAYROLL_SEQUENCE_BACKEND"
)
