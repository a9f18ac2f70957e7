package config

// GatewayConfig is the top-level configuration for the lnurl gateway
// process. It is loaded from config.toml with environment variable
// overrides, the same layering the teacher's ApiConfig used.
type GatewayConfig struct {
	Database struct {
		Host            string `toml:"host" env:"LNURLGW_DB_HOST"`
		Port            string `toml:"port" env:"LNURLGW_DB_PORT" env-default:"5432"`
		User            string `toml:"user" env:"LNURLGW_DB_USER"`
		Password        string `toml:"password" env:"LNURLGW_DB_PASSWORD"`
		DB              string `toml:"db" env:"LNURLGW_DB_NAME"`
		SslMode         string `toml:"ssl_mode" env:"LNURLGW_DB_SSL_MODE" env-default:"disable"`
		MaxConns        int    `toml:"max_conns" env:"LNURLGW_DB_MAX_CONNS" env-default:"25"`
		MinConns        int    `toml:"min_conns" env:"LNURLGW_DB_MIN_CONNS" env-default:"5"`
		MaxConnLifetime int    `toml:"max_conn_lifetime" env:"LNURLGW_DB_MAX_CONN_LIFETIME" env-default:"5"`
		MaxConnIdleTime int    `toml:"max_conn_idle_time" env:"LNURLGW_DB_MAX_CONN_IDLE_TIME" env-default:"1"`
	} `toml:"database"`

	Redis struct {
		Host     string `toml:"host" env:"LNURLGW_REDIS_HOST"`
		Port     string `toml:"port" env:"LNURLGW_REDIS_PORT" env-default:"6379"`
		Password string `toml:"password" env:"LNURLGW_REDIS_PASSWORD"`
		DB       int    `toml:"db" env:"LNURLGW_REDIS_DB" env-default:"0"`
	} `toml:"redis"`

	LND struct {
		GRPCHost              string `toml:"grpc_host" env:"LNURLGW_LND_GRPC_HOST"`
		GRPCPort              string `toml:"grpc_port" env:"LNURLGW_LND_GRPC_PORT" env-default:"10009"`
		TLSCertPath           string `toml:"tls_cert_path" env:"LNURLGW_LND_TLS_CERT_PATH"`
		MacaroonPath          string `toml:"macaroon_path" env:"LNURLGW_LND_MACAROON_PATH"`
		Network               string `toml:"network" env:"LNURLGW_LND_NETWORK" env-default:"mainnet"`
		PaymentTimeoutSeconds int    `toml:"payment_timeout_seconds" env:"LNURLGW_LND_PAYMENT_TIMEOUT_SECONDS" env-default:"30"`
	} `toml:"lnd"`

	Auth struct {
		JWTSecret    string `toml:"jwt_secret" env:"LNURLGW_JWT_SECRET"`
		JWTAlgorithm string `toml:"jwt_algorithm" env:"LNURLGW_JWT_ALGORITHM" env-default:"HS256"`
	} `toml:"auth"`

	Public struct {
		Schema string `toml:"schema" env:"LNURLGW_SCHEMA" env-default:"https://"`
		Domain string `toml:"domain" env:"LNURLGW_DOMAIN"`
	} `toml:"public"`

	Protocol ProtocolConstants `toml:"protocol"`
}

// ProtocolConstants holds the numeric constants fixed by the LNURL
// contract (spec.md §6). They are configurable only for tests; operators
// should not change these in production without matching wallet support.
type ProtocolConstants struct {
	MinWithdrawSats  int64 `toml:"min_withdraw_sats" env:"LNURLGW_MIN_WITHDRAW_SATS" env-default:"50000"`
	FeeLimitSats     int64 `toml:"fee_limit_sats" env:"LNURLGW_FEE_LIMIT_SATS" env-default:"10000"`
	MinSendableSats  int64 `toml:"min_sendable_sats" env:"LNURLGW_MIN_SENDABLE_SATS" env-default:"10000"`
	MaxSendableSats  int64 `toml:"max_sendable_sats" env:"LNURLGW_MAX_SENDABLE_SATS" env-default:"100000000"`
	ChallengeTTLSecs int64 `toml:"challenge_ttl_seconds" env:"LNURLGW_CHALLENGE_TTL_SECONDS" env-default:"600"`
	RateWindowSecs   int64 `toml:"rate_window_seconds" env:"LNURLGW_RATE_WINDOW_SECONDS" env-default:"60"`
	PendingWindowSecs int64 `toml:"pending_window_seconds" env:"LNURLGW_PENDING_WINDOW_SECONDS" env-default:"300"`
}
