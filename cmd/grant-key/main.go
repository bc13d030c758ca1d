// Package main provides a one-shot utility for invitation grant key
// generation.
//
// It emits the Ed25519 keypair used to sign and verify invitation grants.
package main

import (
	"os"

	"github.com/velladore/inkseal/internal/platform/config"
	"github.com/velladore/inkseal/internal/tools/grantkey"
)

func main() {
	if err := grantkey.Run(os.Stdout, nil); err != nil {
		config.Exitf("generate grant key: %v", err)
	}
}
