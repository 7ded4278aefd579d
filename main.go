package main

import "github.com/stackvista/stackstate-index-cli/cmd"

func main() {
	cmd.Execute()
}
