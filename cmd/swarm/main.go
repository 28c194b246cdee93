package main

import "swarm/cmd"

func main() {
	cmd.Execute()
}
