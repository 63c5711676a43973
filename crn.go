package main

import (
	"github.com/crn-cloud/crn/cmd"
	"github.com/crn-cloud/crn/pkg/env"
	"github.com/crn-cloud/crn/pkg/log"
)

func main() {
	if err := env.Process(); err != nil {
		log.Fatal("environment failure", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal("crn failure", "error", err)
	}
}
