package main

import (
	"go-cdse-download/cmd/cdse-download/cmd"
)

func main() {
	cmd.Execute()
}
