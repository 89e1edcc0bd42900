package main

import "slapulse/cmd/cli"

func main() {
	cli.Execute()
}
