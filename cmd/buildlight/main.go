package main

import "github.com/davarch/buildlight/cmd/buildlight/cli"

func main() {
	cli.Execute()
}
