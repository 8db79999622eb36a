package main

import "github.com/wordcheck/session-agent/cmd/wcctl/cmd"

func main() {
	cmd.Execute()
}
