package main

import "github.com/Stealinglight/StravaMCP/cmd"

// version can be set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd.SetVersion(version)
	cmd.Execute()
}
