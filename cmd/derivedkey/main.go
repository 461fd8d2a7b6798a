package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/derived-key-session/authflow"
	"github.com/ruteri/derived-key-session/chainapi"
	"github.com/ruteri/derived-key-session/cmd/flags"
	"github.com/ruteri/derived-key-session/credentials"
	"github.com/ruteri/derived-key-session/cryptoutils"
	"github.com/ruteri/derived-key-session/httpserver"
	"github.com/ruteri/derived-key-session/identityprovider"
	"github.com/ruteri/derived-key-session/interfaces"
	"github.com/ruteri/derived-key-session/session"
	"github.com/ruteri/derived-key-session/signing"
	"github.com/ruteri/derived-key-session/storage"
	"github.com/ruteri/derived-key-session/validator"
	"github.com/urfave/cli/v2"
)

var flagSeedHex = &cli.StringFlag{
	Name:     "seed-hex",
	EnvVars:  []string{"DKS_SEED_HEX"},
	Required: true,
	Usage:    "hex encoded 32-byte root seed",
}
var flagTransactionHex = &cli.StringFlag{
	Name:     "tx",
	Required: true,
	Usage:    "unsigned transaction hex",
}
var flagSubmit = &cli.BoolFlag{
	Name:  "submit",
	Usage: "submit the signed transaction to the node",
}
var flagRevoke = &cli.BoolFlag{
	Name:  "revoke",
	Usage: "revoke the derived key on chain before removing it",
}

const usage = `Authorize derived keys with an identity provider, keep them encrypted in
local storage and sign with them.`

// env holds the components every command works with.
type env struct {
	log       *slog.Logger
	sessions  *session.Manager
	chain     *chainapi.Client
	validator *validator.Validator
	signer    *signing.Service
}

func setup(cCtx *cli.Context) (*env, error) {
	logger := flags.SetupLogger(cCtx)

	factory := storage.NewStorageBackendFactory(logger, storage.FactoryOptions{
		FilePassphrase: cCtx.String(flags.StorePassphraseFlag.Name),
		VaultToken:     cCtx.String(flags.VaultTokenFlag.Name),
	})

	secretLocation, err := interfaces.NewStorageBackendLocation(cCtx.String(flags.SecretStoreFlag.Name))
	if err != nil {
		return nil, err
	}
	secrets, err := factory.SecretStoreFor(secretLocation)
	if err != nil {
		return nil, err
	}

	var bulkLocations []interfaces.StorageBackendLocation
	for _, uri := range cCtx.StringSlice(flags.BulkStoreFlag.Name) {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		bulkLocations = append(bulkLocations, location)
	}
	bulk, err := factory.BulkStoreFor(bulkLocations)
	if err != nil {
		return nil, err
	}

	store := credentials.NewStore(bulk, secrets, logger)
	sessions := session.NewManager(bulk, store, logger)
	if _, err := sessions.Restore(cCtx.Context); err != nil {
		return nil, err
	}

	chain := chainapi.NewClient(flags.ConfigureChainAPI(cCtx), logger)

	return &env{
		log:       logger,
		sessions:  sessions,
		chain:     chain,
		validator: validator.New(chain, sessions, logger),
		signer:    signing.NewService(sessions, logger),
	}, nil
}

// publicKey returns the --public-key flag or the active session's key.
func (e *env) publicKey(cCtx *cli.Context) (string, error) {
	if publicKey := cCtx.String(flags.PublicKeyFlag.Name); publicKey != "" {
		return publicKey, nil
	}
	if current := e.sessions.Current(); current.Active() {
		return current.PublicKey, nil
	}
	return "", interfaces.ErrNoActiveSession
}

type stderrAlerter struct{}

func (stderrAlerter) Alert(title, message string) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", title, message)
}

func printURL(requestURL string) error {
	_, err := fmt.Fprintf(os.Stderr, "Open the following URL to approve a derived key:\n\n  %s\n\n", requestURL)
	return err
}

func withEnv(action func(*cli.Context, *env) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		e, err := setup(cCtx)
		if err != nil {
			return err
		}
		return action(cCtx, e)
	}
}

func login(cCtx *cli.Context, e *env) error {
	provider := identityprovider.NewLoopbackProvider(
		"http://"+cCtx.String(flags.CallbackAddrFlag.Name)+httpserver.CallbackPath,
		printURL, e.log)

	server, err := httpserver.New(flags.ConfigureServer(cCtx, e.log), httpserver.NewHandler(provider, e.log))
	if err != nil {
		return err
	}
	server.RunInBackground()
	defer server.Shutdown()

	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	flow := authflow.New(flags.ConfigureFlow(cCtx), provider, e.chain, e.sessions, stderrAlerter{}, e.log)
	result := flow.Authenticate(ctx, cCtx.String(flags.PublicKeyFlag.Name))
	if !result.OK {
		return result.Err
	}

	fmt.Println(e.sessions.Current().PublicKey)
	return nil
}

func main() {
	app := &cli.App{
		Name:  "derivedkey",
		Usage: usage,
		Flags: flags.CommonFlags,
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "authorize a new derived key through the identity provider",
				Flags: []cli.Flag{
					flags.PublicKeyFlag,
					flags.IdentityURLFlag,
					flags.CallbackAddrFlag,
					flags.ConfirmTimeoutFlag,
					flags.BlockIntervalFlag,
					flags.MetricsAddrFlag,
					flags.PprofFlag,
				},
				Action: withEnv(login),
			},
			{
				Name:  "login-seed",
				Usage: "store a root seed and log in with it",
				Flags: []cli.Flag{flagSeedHex, flags.NetworkFlag},
				Action: withEnv(func(cCtx *cli.Context, e *env) error {
					network, err := cryptoutils.ParseNetwork(cCtx.String(flags.NetworkFlag.Name))
					if err != nil {
						return err
					}
					s, err := e.sessions.LoginDirect(cCtx.Context, cCtx.String(flagSeedHex.Name), network)
					if err != nil {
						return err
					}
					fmt.Println(s.PublicKey)
					return nil
				}),
			},
			{
				Name:  "login-readonly",
				Usage: "view an identity without any credential",
				Flags: []cli.Flag{flags.PublicKeyFlag},
				Action: withEnv(func(cCtx *cli.Context, e *env) error {
					publicKey := cCtx.String(flags.PublicKeyFlag.Name)
					if publicKey == "" {
						return errors.New("--public-key is required")
					}
					return e.sessions.LoginReadOnly(cCtx.Context, publicKey)
				}),
			},
			{
				Name:  "status",
				Usage: "print the active session",
				Action: withEnv(func(cCtx *cli.Context, e *env) error {
					current := e.sessions.Current()
					if !current.Active() {
						fmt.Println("no active session")
						return nil
					}
					fmt.Printf("publicKey=%s readonly=%t derived=%t\n", current.PublicKey, current.ReadOnly, current.Derived)
					return nil
				}),
			},
			{
				Name:  "list",
				Usage: "list identities with stored credentials",
				Action: withEnv(func(cCtx *cli.Context, e *env) error {
					users, err := e.sessions.Store().ListAuthenticatedUsers(cCtx.Context)
					if err != nil {
						return err
					}
					for _, publicKey := range users {
						fmt.Println(publicKey)
					}
					return nil
				}),
			},
			{
				Name:  "validate",
				Usage: "check that the stored derived key is still authorized",
				Flags: []cli.Flag{flags.PublicKeyFlag},
				Action: withEnv(func(cCtx *cli.Context, e *env) error {
					publicKey, err := e.publicKey(cCtx)
					if err != nil {
						return err
					}
					if !e.validator.IsDerivedKeyValid(cCtx.Context, publicKey) {
						return cli.Exit("derived key is not valid", 1)
					}
					fmt.Println("valid")
					return nil
				}),
			},
			{
				Name:  "revoke",
				Usage: "revoke the stored derived key on chain",
				Flags: []cli.Flag{flags.PublicKeyFlag},
				Action: withEnv(func(cCtx *cli.Context, e *env) error {
					publicKey, err := e.publicKey(cCtx)
					if err != nil {
						return err
					}
					outcome := e.validator.RevokeDerivedKey(cCtx.Context, publicKey)
					if outcome.Err != nil {
						return outcome.Err
					}
					fmt.Println(outcome.Status, outcome.TxnHashHex)
					return nil
				}),
			},
			{
				Name:  "logout",
				Usage: "remove the stored credential and end the session",
				Flags: []cli.Flag{flags.PublicKeyFlag, flagRevoke},
				Action: withEnv(func(cCtx *cli.Context, e *env) error {
					publicKey, err := e.publicKey(cCtx)
					if err != nil {
						return err
					}
					outcome, err := e.validator.Logout(cCtx.Context, publicKey, cCtx.Bool(flagRevoke.Name))
					if err != nil {
						return err
					}
					if outcome.Err != nil {
						e.log.Warn("Logged out without revoking the derived key", "err", outcome.Err)
					}
					return nil
				}),
			},
			{
				Name:  "jwt",
				Usage: "issue a short-lived session token",
				Action: withEnv(func(cCtx *cli.Context, e *env) error {
					token, err := e.signer.SignJWT(cCtx.Context)
					if err != nil {
						return err
					}
					fmt.Println(token)
					return nil
				}),
			},
			{
				Name:  "sign",
				Usage: "sign a transaction with the active credential",
				Flags: []cli.Flag{flagTransactionHex, flagSubmit},
				Action: withEnv(func(cCtx *cli.Context, e *env) error {
					signed, err := e.signer.SignActiveTransaction(cCtx.Context, cCtx.String(flagTransactionHex.Name))
					if err != nil {
						return err
					}
					if !cCtx.Bool(flagSubmit.Name) {
						fmt.Println(signed)
						return nil
					}
					ack, err := e.chain.SubmitTransaction(cCtx.Context, signed)
					if err != nil {
						return err
					}
					fmt.Println(ack.TxnHashHex)
					return nil
				}),
			},
		},
	}

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
