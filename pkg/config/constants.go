package config

const (
	EnvPrefix = "CATALOGSYNC"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	EnvAppEnv         = "CATALOGSYNC_APP_ENV"
	EnvDBDSN          = "CATALOGSYNC_DB_DSN"
	EnvDBDriver       = "CATALOGSYNC_DB_DRIVER"
	EnvDBHost         = "CATALOGSYNC_DB_HOST"
	EnvDBUser         = "CATALOGSYNC_DB_USER"
	EnvDBName         = "CATALOGSYNC_DB_NAME"
	EnvImageLimit     = "CATALOGSYNC_IMAGE_LIMIT"
	EnvImageConc      = "CATALOGSYNC_IMAGE_CONCURRENCY"
	EnvMinSuccessRate = "CATALOGSYNC_MIN_SUCCESS_RATE"
	EnvReferers       = "CATALOGSYNC_ASSETS_REFERERS"
	EnvSyncInterval   = "CATALOGSYNC_SYNC_INTERVAL"
)

var dbPartEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
