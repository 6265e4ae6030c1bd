package main

import "github.com/animus-labs/animus-evals/internal/cli"

func main() {
	cli.Execute()
}
