package main

import (
	"github.com/mrcljx/hupper/internal/cli"
	"github.com/mrcljx/hupper/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
