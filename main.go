package main

import "zeroclaw/cmd"

func main() {
	cmd.Execute()
}
