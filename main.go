package main

import "github.com/filipexyz/ravi-sub000/cmd"

func main() {
	cmd.Execute()
}
