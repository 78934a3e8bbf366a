package main

import "github.com/vietddude/vaultprobe/internal/cli"

func main() {
	cli.Execute()
}
