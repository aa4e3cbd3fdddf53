// Command figurectl is the operator CLI: credit grants, figure lookups,
// provider keys, schema and dev tokens.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	env := &cliEnv{}
	defer env.Close()
	if err := newRootCmd(env).Execute(); err != nil {
		os.Exit(1)
	}
}
