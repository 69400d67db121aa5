package main

import (
	"github.com/lefterav/expsuite/pkg/api"
	"github.com/lefterav/expsuite/pkg/suite"
)

func registry() *suite.Registry {
	reg := suite.NewRegistry()
	reg.Register("counter", func() api.Stepper { return counter{} })
	reg.Register("walk", func() api.Stepper { return &walk{} })
	return reg
}

// Main entry point
func main() {
	suite.Main(registry())
}
