package main

import "github.com/ppiankov/overseer/internal/cli"

func main() {
	cli.Execute()
}
