package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/tee-secret-store/api/keyserverhandler"
	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/urfave/cli/v2"
)

var flagServer = &cli.StringFlag{
	Name:  "server-addr",
	Value: "http://127.0.0.1:8082",
	Usage: "key server node to request",
}

var flagRequesterKey = &cli.StringFlag{
	Name:     "requester-key",
	Required: true,
	EnvVars:  []string{"SECRET_STORE_REQUESTER_KEY"},
	Usage:    "secp256k1 requester key: 64-char hex string or path to a file containing one",
}

var flagKeyID = &cli.StringFlag{
	Name:     "key-id",
	Required: true,
	Usage:    "hex-encoded 32-byte server key id",
}

var flagThreshold = &cli.IntFlag{
	Name:  "threshold",
	Value: 1,
	Usage: "number of nodes beyond the first needed to restore the key",
}

var flagAttempts = &cli.UintFlag{
	Name:  "attempts",
	Value: 3,
	Usage: "attempts for requests failing to reach consensus",
}

var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: time.Minute,
	Usage: "overall request timeout",
}

type request struct {
	client    *keyserverhandler.Client
	key       *ecdsa.PrivateKey
	id        interfaces.ServerKeyID
	signature interfaces.RequestSignature
	attempts  uint
}

func newRequest(cCtx *cli.Context) (*request, error) {
	key, err := cryptoutils.LoadNodeKey(cCtx.String(flagRequesterKey.Name))
	if err != nil {
		return nil, err
	}
	id, err := interfaces.NewServerKeyIDFromHex(cCtx.String(flagKeyID.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid key id: %w", err)
	}
	signature, err := cryptoutils.SignKeyID(key, id)
	if err != nil {
		return nil, err
	}
	return &request{
		client:    keyserverhandler.NewClient(cCtx.String(flagServer.Name)),
		key:       key,
		id:        id,
		signature: signature,
		attempts:  cCtx.Uint(flagAttempts.Name),
	}, nil
}

// do retries calls failing because the cluster could not agree at the time.
func do[T any](cCtx *cli.Context, r *request, call func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
	defer cancel()
	return retryCall(ctx, r.attempts, time.Second, call)
}

func retryCall[T any](ctx context.Context, attempts uint, delay time.Duration, call func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := retry.Do(func() error {
		var err error
		result, err = call(ctx)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.RetryIf(keyserverhandler.ErrorIsRetryable),
		retry.LastErrorOnly(true),
	)
	return result, err
}

func printDocumentKey(r *request, encrypted []byte) error {
	documentKey, err := cryptoutils.DecryptWithPrivateKey(r.key, encrypted)
	if err != nil {
		return fmt.Errorf("failed to decrypt document key: %w", err)
	}
	return printJSON(map[string]hexutil.Bytes{"document_key": documentKey})
}

func printJSON(v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func main() {
	app := &cli.App{
		Name:  "keyclient",
		Usage: "Request server and document keys from a secret store cluster",
		Flags: []cli.Flag{
			flagServer,
			flagRequesterKey,
			flagKeyID,
			flagAttempts,
			flagTimeout,
		},
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "generate a new server key",
				Flags: []cli.Flag{flagThreshold},
				Action: func(cCtx *cli.Context) error {
					r, err := newRequest(cCtx)
					if err != nil {
						return err
					}
					threshold := cCtx.Int(flagThreshold.Name)
					public, err := do(cCtx, r, func(ctx context.Context) ([]byte, error) {
						return r.client.GenerateServerKey(ctx, r.id, r.signature, threshold)
					})
					if err != nil {
						return err
					}
					return printJSON(map[string]hexutil.Bytes{"server_public": public})
				},
			},
			{
				Name:  "public",
				Usage: "print the public part of a server key",
				Action: func(cCtx *cli.Context) error {
					r, err := newRequest(cCtx)
					if err != nil {
						return err
					}
					public, err := do(cCtx, r, func(ctx context.Context) ([]byte, error) {
						return r.client.ServerPublicKey(ctx, r.id, r.signature)
					})
					if err != nil {
						return err
					}
					return printJSON(map[string]hexutil.Bytes{"server_public": public})
				},
			},
			{
				Name:  "access",
				Usage: "check which nodes grant the requester access to a key",
				Action: func(cCtx *cli.Context) error {
					r, err := newRequest(cCtx)
					if err != nil {
						return err
					}
					consensus, err := do(cCtx, r, func(ctx context.Context) (*interfaces.AccessConsensus, error) {
						return r.client.CheckAccess(ctx, r.id, r.signature)
					})
					if err != nil {
						return err
					}
					return printJSON(consensus)
				},
			},
			{
				Name:  "generate-document",
				Usage: "generate a server key with a random document key and print the document key",
				Flags: []cli.Flag{flagThreshold},
				Action: func(cCtx *cli.Context) error {
					r, err := newRequest(cCtx)
					if err != nil {
						return err
					}
					threshold := cCtx.Int(flagThreshold.Name)
					encrypted, err := do(cCtx, r, func(ctx context.Context) ([]byte, error) {
						return r.client.GenerateDocumentKey(ctx, r.id, r.signature, threshold)
					})
					if err != nil {
						return err
					}
					return printDocumentKey(r, encrypted)
				},
			},
			{
				Name:  "store",
				Usage: "encrypt a fresh document key to an existing server key and store it in the cluster",
				Action: func(cCtx *cli.Context) error {
					r, err := newRequest(cCtx)
					if err != nil {
						return err
					}
					serverPublic, err := do(cCtx, r, func(ctx context.Context) ([]byte, error) {
						return r.client.ServerPublicKey(ctx, r.id, r.signature)
					})
					if err != nil {
						return err
					}
					documentKey, err := cryptoutils.GenerateDocumentKey()
					if err != nil {
						return err
					}
					commonPoint, encryptedPoint, err := cryptoutils.EncryptDocumentKey(serverPublic, documentKey)
					if err != nil {
						return err
					}
					_, err = do(cCtx, r, func(ctx context.Context) (struct{}, error) {
						return struct{}{}, r.client.StoreDocumentKey(ctx, r.id, r.signature, commonPoint, encryptedPoint)
					})
					if err != nil {
						return err
					}
					return printJSON(map[string]hexutil.Bytes{"document_key": documentKey})
				},
			},
			{
				Name:  "restore",
				Usage: "restore a document key and decrypt it with the requester key",
				Action: func(cCtx *cli.Context) error {
					r, err := newRequest(cCtx)
					if err != nil {
						return err
					}
					encrypted, err := do(cCtx, r, func(ctx context.Context) ([]byte, error) {
						return r.client.RestoreDocumentKey(ctx, r.id, r.signature)
					})
					if err != nil {
						return err
					}
					return printDocumentKey(r, encrypted)
				},
			},
			{
				Name:  "shadow",
				Usage: "collect document key shadows and recover the document key locally",
				Action: func(cCtx *cli.Context) error {
					r, err := newRequest(cCtx)
					if err != nil {
						return err
					}
					shadow, err := do(cCtx, r, func(ctx context.Context) (*interfaces.DocumentKeyShadow, error) {
						return r.client.RestoreDocumentKeyShadow(ctx, r.id, r.signature)
					})
					if err != nil {
						return err
					}
					documentKey, err := cryptoutils.DecryptDocumentKeyShadow(r.key, shadow)
					if err != nil {
						return fmt.Errorf("failed to recover document key: %w", err)
					}
					return printJSON(map[string]hexutil.Bytes{"document_key": documentKey})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
