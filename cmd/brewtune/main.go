package main

import (
	"github.com/brewtune/brewtune/internal/cli"
)

// set via -ldflags "-X main.buildVersion=..."
var buildVersion = "N/A"

func main() {
	cli.Execute(buildVersion)
}
