package main

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/secretsharing"
	"github.com/urfave/cli/v2"
)

var flagNodeKeyFile = &cli.StringFlag{
	Name:  "node-key-file",
	Value: "node.key",
	Usage: "path of the hex encoded node key",
}
var flagSharesFile = &cli.StringFlag{
	Name:  "shares-file",
	Value: "node-key-shares.json",
	Usage: "path of the JSON file holding the node key backup shares",
}
var flagShares = &cli.IntFlag{
	Name:  "shares",
	Value: 3,
	Usage: "number of backup shares to produce",
}
var flagThreshold = &cli.IntFlag{
	Name:  "threshold",
	Value: 2,
	Usage: "number of backup shares needed to recover the node key",
}

// backup is the content of a shares file. Each share is meant to be handed to
// a different operator.
type backup struct {
	NodeID    string          `json:"node_id"`
	Threshold int             `json:"threshold"`
	Shares    []hexutil.Bytes `json:"shares"`
}

func splitNodeKey(key *ecdsa.PrivateKey, shares, threshold int) (*backup, error) {
	secret := crypto.FromECDSA(key)
	defer secretsharing.Wipe(secret)

	parts, err := secretsharing.Split(secret, shares, threshold)
	if err != nil {
		return nil, err
	}

	b := &backup{NodeID: cryptoutils.NodeID(key).String(), Threshold: threshold}
	for _, part := range parts {
		b.Shares = append(b.Shares, part)
	}
	return b, nil
}

// combineNodeKey recovers the node key and checks it against the recorded node id.
func combineNodeKey(b *backup) (*ecdsa.PrivateKey, error) {
	parts := make([][]byte, len(b.Shares))
	for i, share := range b.Shares {
		parts[i] = share
	}

	secret, err := secretsharing.Combine(parts, b.Threshold)
	if err != nil {
		return nil, err
	}
	defer secretsharing.Wipe(secret)

	key, err := crypto.ToECDSA(secret)
	if err != nil {
		return nil, fmt.Errorf("recovered an invalid node key: %w", err)
	}
	if id := cryptoutils.NodeID(key).String(); b.NodeID != "" && id != b.NodeID {
		return nil, fmt.Errorf("recovered node key %s does not match backup of %s", id, b.NodeID)
	}
	return key, nil
}

func main() {
	app := &cli.App{
		Name:           "nodekey",
		Usage:          "Manage secret store node keys",
		DefaultCommand: "generate",
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "generate a new node key and print its node id",
				Flags: []cli.Flag{flagNodeKeyFile},
				Action: func(cCtx *cli.Context) error {
					key, err := cryptoutils.GenerateNodeKey()
					if err != nil {
						return err
					}
					if err := crypto.SaveECDSA(cCtx.String(flagNodeKeyFile.Name), key); err != nil {
						return err
					}
					fmt.Println(cryptoutils.NodeID(key).String())
					return nil
				},
			},
			{
				Name:  "split",
				Usage: "split a node key into backup shares",
				Flags: []cli.Flag{flagNodeKeyFile, flagSharesFile, flagShares, flagThreshold},
				Action: func(cCtx *cli.Context) error {
					key, err := cryptoutils.LoadNodeKey(cCtx.String(flagNodeKeyFile.Name))
					if err != nil {
						return err
					}

					b, err := splitNodeKey(key, cCtx.Int(flagShares.Name), cCtx.Int(flagThreshold.Name))
					if err != nil {
						return err
					}

					encoded, err := json.MarshalIndent(b, "", "  ")
					if err != nil {
						return err
					}
					return os.WriteFile(cCtx.String(flagSharesFile.Name), encoded, 0600)
				},
			},
			{
				Name:  "combine",
				Usage: "recover a node key from backup shares",
				Flags: []cli.Flag{flagNodeKeyFile, flagSharesFile},
				Action: func(cCtx *cli.Context) error {
					encoded, err := os.ReadFile(cCtx.String(flagSharesFile.Name))
					if err != nil {
						return err
					}

					var b backup
					if err := json.Unmarshal(encoded, &b); err != nil {
						return fmt.Errorf("invalid shares file: %w", err)
					}

					key, err := combineNodeKey(&b)
					if err != nil {
						return err
					}
					if err := crypto.SaveECDSA(cCtx.String(flagNodeKeyFile.Name), key); err != nil {
						return err
					}
					fmt.Println(cryptoutils.NodeID(key).String())
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
