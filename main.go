package main

import "github.com/cbout22/kickstart/internal/cli"

func main() {
	cli.Execute()
}
