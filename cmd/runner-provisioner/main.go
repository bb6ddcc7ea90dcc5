package main

import (
	"github.com/oshokin/runner-provisioner/cmd/runner-provisioner/cmd"
)

func main() {
	cmd.Execute()
}
