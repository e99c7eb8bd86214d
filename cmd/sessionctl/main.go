package main

import "github.com/aussiebroadwan/sessionkit/cmd/sessionctl/cmd"

func main() {
	cmd.Execute()
}
