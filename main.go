package main

import "unfurl/cmd"

func main() {
	cmd.Execute()
}
