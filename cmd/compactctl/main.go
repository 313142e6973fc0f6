package main

import "github.com/roomstate/compactor/cmd/compactctl/cmd"

func main() {
	cmd.Execute()
}
