package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const defaultSecretBytesLen = 32

// Print fresh secrets of the ledger in .env format
func main() {
	fs := pflag.NewFlagSet("gensecret", pflag.ExitOnError)
	size := fs.IntP("bytes", "b", defaultSecretBytesLen, "Length of every secret in bytes")
	_ = fs.Parse(os.Args[1:])

	if err := writeSecrets(os.Stdout, *size); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secrets: %v\n", err)
		os.Exit(1)
	}
}

func writeSecrets(w io.Writer, size int) error {
	if size < 16 {
		return fmt.Errorf("secret must be at least 16 bytes, got %d", size)
	}

	for _, key := range []string{"SECRET_KEY", "GATEWAY_TOKEN"} {
		b := make([]byte, size)
		if _, err := rand.Read(b); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", key, hex.EncodeToString(b)); err != nil {
			return err
		}
	}

	return nil
}
