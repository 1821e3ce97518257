package main

import "github.com/ppiankov/steward/internal/cli"

func main() {
	cli.Execute()
}
