// Package main is the wsmonitor executable.
package main

import (
	"github.com/JakeFAU/wsmonitor/cmd"
)

func main() {
	cmd.Execute()
}
