package main

import "github.com/emiliopalmerini/splitd/internal/cli"

func main() {
	cli.Execute()
}
