package main

import "github.com/hivemind-dev/hivemind/cmd"

func main() {
	cmd.Execute()
}
