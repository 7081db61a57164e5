package main

import "github.com/kozaktomas/pagefinder/cmd"

func main() {
	cmd.Execute()
}
