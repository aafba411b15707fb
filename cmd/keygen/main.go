// Command keygen generates an Ed25519 keypair for the crypto venue's
// signed REST API. The public key is what gets registered with the
// venue; the seed is what the service signs requests with.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

func main() {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate keypair: %v\n", err)
		os.Exit(1)
	}

	seedB64 := base64.StdEncoding.EncodeToString(priv.Seed())
	pubB64 := base64.StdEncoding.EncodeToString(pub)

	fmt.Println("Ed25519 keypair generated.")
	fmt.Println()
	fmt.Printf("Private key seed (base64):\n  %s\n\n", seedB64)
	fmt.Printf("Public key (base64):\n  %s\n\n", pubB64)
	fmt.Println("Next steps:")
	fmt.Println("  1. Register the PUBLIC key in the venue's API credentials portal")
	fmt.Println("     to obtain an API key.")
	fmt.Println("  2. Export the credentials for the service:")
	fmt.Println("       export ROBINHOOD_API_KEY=<api key from the portal>")
	fmt.Printf("       export ROBINHOOD_PRIVATE_KEY=%q\n", seedB64)
	fmt.Println("  3. Never commit the private key seed anywhere.")
}
