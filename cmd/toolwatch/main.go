package main

import "github.com/ppiankov/toolwatch/internal/cli"

func main() {
	cli.Execute()
}
