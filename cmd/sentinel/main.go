package main

import "github.com/ppiankov/sentinel/internal/cli"

func main() {
	cli.Execute()
}
