package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/derived-key-session/authflow"
	"github.com/ruteri/derived-key-session/chainapi"
	"github.com/ruteri/derived-key-session/common"
	"github.com/ruteri/derived-key-session/httpserver"
	"github.com/ruteri/derived-key-session/identityprovider"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(CallbackAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		GracefulShutdownDuration: 5 * time.Second,
		ReadTimeout:              30 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

func ConfigureChainAPI(cCtx *cli.Context) chainapi.Config {
	cfg := chainapi.DefaultConfig()
	cfg.NodeURL = cCtx.String(NodeURLFlag.Name)
	cfg.RequestsPerSecond = cCtx.Float64(NodeRateFlag.Name)
	cfg.MinFeeRateNanosPerKB = cCtx.Uint64(MinFeeRateFlag.Name)
	return cfg
}

func ConfigureFlow(cCtx *cli.Context) authflow.Config {
	cfg := authflow.DefaultConfig()
	cfg.IdentityURL = cCtx.String(IdentityURLFlag.Name)
	cfg.ConfirmTimeout = cCtx.Duration(ConfirmTimeoutFlag.Name)
	cfg.BlockInterval = cCtx.Duration(BlockIntervalFlag.Name)
	return cfg
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint on the callback server",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "",
	Usage: "address to listen on for Prometheus metrics while the callback server runs, disabled when empty",
}

var SecretStoreFlag = &cli.StringFlag{
	Name:  "secret-store",
	Value: "file://./.derived-key-session/secrets?sealed=true",
	Usage: "location of encryption key records: file://, vault:// or memory://",
}
var BulkStoreFlag = &cli.StringSliceFlag{
	Name:  "bulk-store",
	Value: cli.NewStringSlice("file://./.derived-key-session/bulk"),
	Usage: "location of the users index and session flags, repeat to mirror: file://, s3://, redis://, memory://",
}
var StorePassphraseFlag = &cli.StringFlag{
	Name:    "store-passphrase",
	EnvVars: []string{"DKS_STORE_PASSPHRASE"},
	Usage:   "passphrase sealing file secret stores opened with ?sealed=true",
}
var VaultTokenFlag = &cli.StringFlag{
	Name:    "vault-token",
	EnvVars: []string{"VAULT_TOKEN"},
	Usage:   "token for vault:// secret stores",
}

var NodeURLFlag = &cli.StringFlag{
	Name:  "node-url",
	Value: chainapi.DefaultConfig().NodeURL,
	Usage: "chain node API base URL",
}
var NodeRateFlag = &cli.Float64Flag{
	Name:  "node-rps",
	Value: chainapi.DefaultConfig().RequestsPerSecond,
	Usage: "maximum requests per second to the node, unlimited when 0",
}
var MinFeeRateFlag = &cli.Uint64Flag{
	Name:  "min-fee-rate",
	Value: chainapi.DefaultConfig().MinFeeRateNanosPerKB,
	Usage: "minimum fee rate in nanos per KB for authorization transactions",
}
var NetworkFlag = &cli.StringFlag{
	Name:  "network",
	Value: "mainnet",
	Usage: "key network: mainnet or testnet",
}

var IdentityURLFlag = &cli.StringFlag{
	Name:  "identity-url",
	Value: identityprovider.DefaultIdentityURL,
	Usage: "identity provider base URL",
}
var CallbackAddrFlag = &cli.StringFlag{
	Name:  "callback-addr",
	Value: "127.0.0.1:8095",
	Usage: "loopback address receiving the identity provider redirect",
}
var ConfirmTimeoutFlag = &cli.DurationFlag{
	Name:  "confirm-timeout",
	Value: authflow.DefaultConfig().ConfirmTimeout,
	Usage: "how long to wait for the chain to report an authorized key as valid",
}
var BlockIntervalFlag = &cli.DurationFlag{
	Name:  "block-interval",
	Value: authflow.DefaultConfig().BlockInterval,
	Usage: "expected block time, used to estimate when an authorization expires",
}

var PublicKeyFlag = &cli.StringFlag{
	Name:  "public-key",
	Usage: "root public key (base58check), defaults to the active session",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	SecretStoreFlag,
	BulkStoreFlag,
	StorePassphraseFlag,
	VaultTokenFlag,
	NodeURLFlag,
	NodeRateFlag,
	MinFeeRateFlag,
}
