package main

import "github.com/GPT012/pyoz-orchestrator/internal/cli"

func main() {
	cli.Execute()
}
